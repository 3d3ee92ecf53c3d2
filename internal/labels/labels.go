// Package labels provides the ordered list of class names used to describe detections.
package labels

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Placeholder marks an unused class slot in a label file.
const Placeholder = "-"

// FilterMode decides how category indexes map onto a filtered label list.
type FilterMode int

const (
	// FilterCompact drops placeholder entries and shifts the rest down, so category i
	// names Labels()[i]. This suits models whose class space skips the placeholder slots.
	FilterCompact FilterMode = iota
	// FilterReindex drops placeholder entries from Labels() but resolves Label(i)
	// against the unfiltered source, so category i keeps its position in the file.
	FilterReindex
)

// ParseFilterMode converts "compact" or "reindex" to a FilterMode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact":
		return FilterCompact, nil
	case "reindex":
		return FilterReindex, nil
	}
	return FilterCompact, fmt.Errorf("unknown label filter mode %q", s)
}

func (m FilterMode) String() string {
	if m == FilterReindex {
		return "reindex"
	}
	return "compact"
}

// Options control how the catalog is built.
type Options struct {
	IgnorePlaceholders bool
	Mode               FilterMode
}

// Catalog is built lazily on first use and never rebuilt.
type Catalog struct {
	source func() []string
	opts   Options

	once   sync.Once
	raw    []string
	labels []string
}

// New creates a catalog that will call source exactly once, on first use.
func New(source func() []string, opts Options) *Catalog {
	return &Catalog{
		source: source,
		opts:   opts,
	}
}

// FromSlice creates a catalog over a fixed list.
func FromSlice(labels []string, opts Options) *Catalog {
	return New(func() []string { return labels }, opts)
}

func (c *Catalog) build() {
	c.once.Do(func() {
		src := c.source()
		c.raw = make([]string, len(src))
		copy(c.raw, src)

		if !c.opts.IgnorePlaceholders {
			c.labels = c.raw
			return
		}
		c.labels = make([]string, 0, len(c.raw))
		for _, l := range c.raw {
			if l != "" && l != Placeholder {
				c.labels = append(c.labels, l)
			}
		}
	})
}

// Labels returns the cached label list. Every call returns the same slice.
func (c *Catalog) Labels() []string {
	c.build()
	return c.labels
}

// Label returns the name for a raw category index, or the index itself when it is out of range.
func (c *Catalog) Label(category int) string {
	c.build()
	list := c.labels
	if c.opts.Mode == FilterReindex {
		list = c.raw
	}
	if category < 0 || category >= len(list) {
		return strconv.Itoa(category)
	}
	return list[category]
}

// Options returns the options the catalog was created with.
func (c *Catalog) Options() Options {
	return c.opts
}

// LoadFile reads a label file with one label per line. Blank lines are kept as empty
// entries so that line numbers continue to match class indexes.
func LoadFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	labels := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return labels, nil
}
