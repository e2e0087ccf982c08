// Package domaintest provides test doubles for domain interfaces.
package domaintest

import (
	"sync"

	"ice-broker/internal/domain"
)

// Recorder is a concurrency-safe EventReporter that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Report(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// Count returns how many events of kind were reported.
func (r *Recorder) Count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
