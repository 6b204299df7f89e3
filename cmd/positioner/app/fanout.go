package app

import (
	"sync"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/geometry"
)

// fanout forwards coordinator output to sinks that are created after the coordinator.
type fanout struct {
	mu    sync.RWMutex
	sinks []cycle.Sink
}

var _ cycle.Sink = (*fanout)(nil)

func (f *fanout) Add(s cycle.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *fanout) PublishPosition(p geometry.Position) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.PublishPosition(p)
	}
}

func (f *fanout) PublishStatus(st cycle.Status) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.PublishStatus(st)
	}
}
