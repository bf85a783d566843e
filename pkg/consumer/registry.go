package consumer

import (
	"fmt"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// Factory builds a fresh do.Stage instance for one DO. A graph spec names
// a stage by its registered string tag (types.DOSpec.Stage); the manager
// never needs a type switch to know what it is building.
type Factory func() do.Stage

var registry = map[string]Factory{
	"crc":          func() do.Stage { return &CRC{} },
	"grep":         func() do.Stage { return &Grep{} },
	"sort":         func() do.Stage { return &Sort{} },
	"reversewords": func() do.Stage { return &ReverseWords{} },
	"lastchar":     func() do.Stage { return &LastChar{} },
	"numberwriter": func() do.Stage { return &NumberWriter{} },
	"evenoddrouter": func() do.Stage {
		return &EvenOddRouter{}
	},
	"sumup": func() do.Stage { return &SumUp{} },
}

// Register adds or replaces the factory for a stage tag. Application code
// embedding this engine in a larger pipeline calls this from an init() to
// extend the catalogue beyond the stock stages above.
func Register(tag string, f Factory) {
	registry[tag] = f
}

// New constructs the named stage, or an error if tag is not registered
// (spec §6 "type... optional app-consumer class tag").
func New(tag string) (do.Stage, error) {
	f, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("consumer %q: %w: stage not registered", tag, types.ErrInvalidArgument)
	}
	return f(), nil
}
