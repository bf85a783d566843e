package consumer

import (
	"fmt"
	"strconv"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// SumUp is a deferred application consumer that writes the decimal sum of
// its producer's checksum tree (spec §8 S2, §9, SPEC_FULL.md §13). If the
// producer is a container, SumUp recurses into each child — and, for a
// child that is itself a container, into its nested children in turn —
// accumulating leaf DOs' own Checksum() rather than re-reading the outer
// container on every level. This resolves spec §9's Open Question: the
// Daliuge source recurses back into the outer container at each level,
// which double-counts; this implementation recurses into the nested
// child instead.
type SumUp struct{}

func (s *SumUp) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (s *SumUp) Run(self *do.DataObject, producer *do.DataObject) error {
	total := sumChecksums(producer)
	if _, err := self.Write([]byte(strconv.FormatUint(total, 10))); err != nil {
		return fmt.Errorf("sumup: write: %w", err)
	}
	return self.SetCompleted()
}

func sumChecksums(d *do.DataObject) uint64 {
	if d.IsContainer() {
		var total uint64
		for _, child := range d.Children() {
			total += sumChecksums(child)
		}
		return total
	}
	if cs := d.Checksum(); cs != nil {
		return uint64(*cs)
	}
	return 0
}
