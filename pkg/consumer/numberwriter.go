package consumer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// NumberWriter is a deferred application consumer that reads an integer N
// from its producer's content and writes the whitespace-separated
// sequence 0..N-1 (spec §8 S4).
type NumberWriter struct{}

func (n *NumberWriter) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (n *NumberWriter) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("numberwriter: read producer: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("numberwriter: parse count: %w", err)
	}
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = strconv.Itoa(i)
	}
	if _, err := self.Write([]byte(strings.Join(parts, " "))); err != nil {
		return fmt.Errorf("numberwriter: write: %w", err)
	}
	return self.SetCompleted()
}
