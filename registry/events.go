package registry

import (
	"sort"

	"github.com/ruteri/safe-forge/interfaces"
)

// Event returns the event with the given id.
func (r *Registry) Event(id uint64) (*interfaces.GenerationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.events), func(i int) bool { return r.events[i].EventID >= id })
	if i == len(r.events) || r.events[i].EventID != id {
		return nil, interfaces.ErrEventNotFound
	}
	out := r.events[i].Clone()
	return &out, nil
}

// Events pages through the event log in id order, returning up to limit
// events with ids greater than after. A non-positive limit selects
// DefaultEventPageSize; limits are capped at MaxEventPageSize.
func (r *Registry) Events(after uint64, limit int) []interfaces.GenerationEvent {
	if limit <= 0 {
		limit = DefaultEventPageSize
	}
	if limit > MaxEventPageSize {
		limit = MaxEventPageSize
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	start := sort.Search(len(r.events), func(i int) bool { return r.events[i].EventID > after })
	end := min(start+limit, len(r.events))

	out := make([]interfaces.GenerationEvent, 0, end-start)
	for _, e := range r.events[start:end] {
		out = append(out, e.Clone())
	}
	return out
}

// NextEventID is the id the next generation will receive.
func (r *Registry) NextEventID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextEventID
}
