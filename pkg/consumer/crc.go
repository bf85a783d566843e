package consumer

import (
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC is a deferred application consumer: it reads its producer's full
// content, recomputes the CRC32C over it, and writes the checksum back as
// a decimal string (spec §8 S1 "int(contents(B)) == A.checksum"). Writing
// the checksum as text rather than raw bytes lets a CRC consumer also act
// as a producer for another CRC consumer (SPEC_FULL.md §13's round-trip
// test).
type CRC struct{}

func (c *CRC) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (c *CRC) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("crc: read producer: %w", err)
	}
	sum := crc32.Checksum(data, castagnoliTable)
	if _, err := self.Write([]byte(strconv.FormatUint(uint64(sum), 10))); err != nil {
		return fmt.Errorf("crc: write: %w", err)
	}
	return self.SetCompleted()
}
