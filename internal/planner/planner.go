// Package planner chooses, for a given set of predicate fields, the index
// that covers the most of them while being the narrowest otherwise (§4.5).
package planner

import (
	"sort"
	"strings"
	"sync"

	"schemaless/internal/index"
	"schemaless/internal/storeerr"
)

// Collection holds a candidate list of index descriptors and memoizes the
// chosen index per field set.
type Collection struct {
	indexes []*index.Descriptor

	mu    sync.Mutex
	cache map[string]*index.Descriptor
}

// NewCollection builds a Collection over indexes, in registration order;
// ties in Choose are broken by this order.
func NewCollection(indexes []*index.Descriptor) *Collection {
	return &Collection{
		indexes: indexes,
		cache:   make(map[string]*index.Descriptor),
	}
}

// Choose returns the index maximizing (fields_covered, -descriptor_width)
// for field set fields. If hasOrdering is false and the best index covers
// zero of fields, the query is Unplannable.
func (c *Collection) Choose(fields []string, hasOrdering bool) (*index.Descriptor, error) {
	key := cacheKey(fields)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	wanted := make(map[string]bool, len(fields))
	for _, f := range fields {
		wanted[f] = true
	}

	var best *index.Descriptor
	bestCovered := -1
	bestWidth := 0

	for _, idx := range c.indexes {
		covered := 0
		for _, f := range idx.Fields {
			if wanted[f] {
				covered++
			}
		}
		width := len(idx.Fields)

		if best == nil || covered > bestCovered || (covered == bestCovered && width < bestWidth) {
			best = idx
			bestCovered = covered
			bestWidth = width
		}
	}

	if best == nil {
		return nil, storeerr.New(storeerr.Unplannable, "planner.Choose", nil)
	}
	if bestCovered == 0 && !hasOrdering {
		return nil, storeerr.New(storeerr.Unplannable, "planner.Choose", nil)
	}

	// A zero-coverage choice is only valid with ordering, so it is not cached:
	// a later unordered call for the same field set must still be Unplannable.
	if bestCovered > 0 {
		c.mu.Lock()
		c.cache[key] = best
		c.mu.Unlock()
	}

	return best, nil
}

func cacheKey(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
