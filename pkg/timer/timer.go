package timer

import (
	"fmt"
	"sync"
	"time"
)

// Registry is a named duration-timer registry scoped to one run. Names are
// free-form strings.
type Registry struct {
	mu     sync.Mutex
	starts map[string]time.Time
	durs   map[string]time.Duration
}

// NewRegistry creates an empty timer registry.
func NewRegistry() *Registry {
	return &Registry{
		starts: make(map[string]time.Time),
		durs:   make(map[string]time.Duration),
	}
}

// Start begins timing under the given name. Starting an already-running
// timer restarts it.
func (r *Registry) Start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[name] = time.Now()
}

// Stop ends timing under the given name and records the elapsed duration.
// Stopping a timer that was never started is an error; stopping twice keeps
// the first recorded duration.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, ok := r.starts[name]
	if !ok {
		return fmt.Errorf("timer %q was never started", name)
	}
	if _, done := r.durs[name]; done {
		return nil
	}
	r.durs[name] = time.Since(start)
	return nil
}

// Duration returns the recorded duration for name. The timer must have been
// stopped first.
func (r *Registry) Duration(name string) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.durs[name]
	if !ok {
		return 0, fmt.Errorf("timer %q has no recorded duration", name)
	}
	return d, nil
}
