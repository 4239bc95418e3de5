package validate

import (
	"sort"
	"sync"
)

// StaticDirectory is a SliceDirectory backed by a fixed id set, reloadable
// when the slice configuration changes.
type StaticDirectory struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStaticDirectory builds a directory from the configured slice ids.
func NewStaticDirectory(ids []string) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(ids)
	return d
}

// Known reports whether the slice id is registered.
func (d *StaticDirectory) Known(sliceID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[sliceID]
	return ok
}

// IDs returns the registered slice ids in sorted order.
func (d *StaticDirectory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.ids))
	for id := range d.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Replace swaps the directory contents atomically.
func (d *StaticDirectory) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		next[id] = struct{}{}
	}
	d.mu.Lock()
	d.ids = next
	d.mu.Unlock()
}
