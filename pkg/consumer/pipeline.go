package consumer

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/dfms/pkg/do"
	"github.com/cuemby/dfms/pkg/types"
)

// Grep is a deferred application consumer that writes through only the
// lines of its producer containing a substring (spec §8 S3). The pattern
// is a recognized AppInitialize option, "pattern", defaulting to "" (which
// matches every line).
type Grep struct {
	pattern string
}

func (g *Grep) AppInitialize(self *do.DataObject, opts []types.Option) error {
	g.pattern = stringOption(opts, "pattern", "")
	return nil
}

func (g *Grep) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("grep: read producer: %w", err)
	}
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, g.pattern) {
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	if _, err := self.Write(out.Bytes()); err != nil {
		return fmt.Errorf("grep: write: %w", err)
	}
	return self.SetCompleted()
}

// Sort is a deferred application consumer that writes through its
// producer's lines in lexicographic order (spec §8 S3).
type Sort struct{}

func (s *Sort) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (s *Sort) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("sort: read producer: %w", err)
	}
	lines := splitLines(data)
	sort.Strings(lines)
	var out bytes.Buffer
	for _, l := range lines {
		out.WriteString(l)
		out.WriteByte('\n')
	}
	if _, err := self.Write(out.Bytes()); err != nil {
		return fmt.Errorf("sort: write: %w", err)
	}
	return self.SetCompleted()
}

// ReverseWords is a deferred application consumer that reverses the
// letters of every word in its producer's content, preserving word and
// line order (spec §8 S3).
type ReverseWords struct{}

func (r *ReverseWords) AppInitialize(self *do.DataObject, opts []types.Option) error { return nil }

func (r *ReverseWords) Run(self *do.DataObject, producer *do.DataObject) error {
	data, err := producer.ReadAll()
	if err != nil {
		return fmt.Errorf("reversewords: read producer: %w", err)
	}
	var out bytes.Buffer
	for _, line := range splitLines(data) {
		words := strings.Fields(line)
		for i, w := range words {
			if i > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(reverseString(w))
		}
		out.WriteByte('\n')
	}
	if _, err := self.Write(out.Bytes()); err != nil {
		return fmt.Errorf("reversewords: write: %w", err)
	}
	return self.SetCompleted()
}

func splitLines(data []byte) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
