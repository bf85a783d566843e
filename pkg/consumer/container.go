package consumer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// EvenOddRouter is a container application consumer (spec §4.3 rule 4):
// it has two children, writes its producer's whitespace-separated
// integers to child 0 if even and child 1 if odd, then completes each
// child. The container's own status then mirrors its children
// automatically via do.DataObject.AddChild's status-change subscription
// (spec §8 S4).
type EvenOddRouter struct{}

func (e *EvenOddRouter) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (e *EvenOddRouter) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("evenoddrouter: read producer: %w", err)
	}
	children := self.Children()
	if len(children) != 2 {
		return fmt.Errorf("evenoddrouter: %w: expected exactly 2 children, got %d", types.ErrInvalidArgument, len(children))
	}

	var evens, odds []string
	for _, tok := range strings.Fields(string(data)) {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("evenoddrouter: parse %q: %w", tok, err)
		}
		if v%2 == 0 {
			evens = append(evens, tok)
		} else {
			odds = append(odds, tok)
		}
	}

	if _, err := self.WriteChild(0, []byte(strings.Join(evens, " "))); err != nil {
		return fmt.Errorf("evenoddrouter: write evens: %w", err)
	}
	if err := children[0].SetCompleted(); err != nil {
		return fmt.Errorf("evenoddrouter: complete evens child: %w", err)
	}
	if _, err := self.WriteChild(1, []byte(strings.Join(odds, " "))); err != nil {
		return fmt.Errorf("evenoddrouter: write odds: %w", err)
	}
	if err := children[1].SetCompleted(); err != nil {
		return fmt.Errorf("evenoddrouter: complete odds child: %w", err)
	}
	return nil
}
