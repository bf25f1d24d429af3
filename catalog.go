package kzip

import (
	"fmt"
	"iter"
)

// maxPathLen bounds stored paths to what the uint16 wire field can hold.
const maxPathLen = 1<<16 - 1

// Catalog is the ordered collection of logical file entries.
//
// Order is discovery order and drives both listing and serialization.
// Append re-validates stored-path uniqueness even though the traversal
// layer is expected to yield distinct source paths.
type Catalog struct {
	entries []Entry
	byPath  map[string]int
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byPath: make(map[string]int)}
}

// Append adds an entry to the catalog. It fails with ErrPathCollision when
// an entry with the same stored path is already present.
func (c *Catalog) Append(e Entry) error {
	if len(e.Path) > maxPathLen {
		return fmt.Errorf("kzip: stored path exceeds %d bytes", maxPathLen)
	}
	if _, ok := c.byPath[e.Path]; ok {
		return fmt.Errorf("%w: %s", ErrPathCollision, e.Path)
	}
	c.byPath[e.Path] = len(c.entries)
	c.entries = append(c.entries, e)
	return nil
}

// Lookup returns the entry for the given stored path, if present.
func (c *Catalog) Lookup(path string) (Entry, bool) {
	i, ok := c.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns an iterator over entries in discovery order.
func (c *Catalog) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range c.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
