package module

import "sync"

// MetaPath is the ordered list of finders consulted for every import.
// It is safe for concurrent use.
type MetaPath struct {
	mu      sync.RWMutex
	finders []Finder
}

// NewMetaPath creates a meta path holding finders in the given order.
func NewMetaPath(finders ...Finder) *MetaPath {
	return &MetaPath{finders: append([]Finder(nil), finders...)}
}

// InsertFront places f at position zero.
func (p *MetaPath) InsertFront(f Finder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finders = append([]Finder{f}, p.finders...)
}

// Append places f at the end.
func (p *MetaPath) Append(f Finder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finders = append(p.finders, f)
}

// RemoveFunc removes every finder for which pred returns true and reports how
// many were removed.
func (p *MetaPath) RemoveFunc(pred func(Finder) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.finders[:0]
	removed := 0
	for _, f := range p.finders {
		if pred(f) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	// Clear the tail so removed finders can be collected.
	for i := len(kept); i < len(p.finders); i++ {
		p.finders[i] = nil
	}
	p.finders = kept
	return removed
}

// Finders returns a snapshot of the current order.
func (p *MetaPath) Finders() []Finder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Finder(nil), p.finders...)
}

// Len returns the number of registered finders.
func (p *MetaPath) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.finders)
}
