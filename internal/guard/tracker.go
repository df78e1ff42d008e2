package guard

import (
	"context"
	"sort"
	"sync"
)

// Guard admits at most one run of a pull job kind at a time.
type Guard interface {
	// Begin registers a run of kind unless one is already in flight.
	// When ok is true the returned release must be called once the run ends.
	Begin(ctx context.Context, kind string) (release func(), ok bool, err error)
}

// Tracker keeps the live set of in-flight runs in memory, tagged by job kind.
// On its own it only sees runs of this process.
type Tracker struct {
	mu      sync.Mutex
	next    uint64
	running map[string]map[uint64]struct{}
}

var _ Guard = (*Tracker)(nil)

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{running: make(map[string]map[uint64]struct{})}
}

// Begin atomically checks and registers a run of kind.
func (t *Tracker) Begin(_ context.Context, kind string) (func(), bool, error) {
	release, ok := t.tryBegin(kind)
	return release, ok, nil
}

func (t *Tracker) tryBegin(kind string) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.running[kind]) > 0 {
		return func() {}, false
	}

	t.next++
	id := t.next
	if t.running[kind] == nil {
		t.running[kind] = make(map[uint64]struct{})
	}
	t.running[kind][id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.running[kind], id)
			if len(t.running[kind]) == 0 {
				delete(t.running, kind)
			}
		})
	}, true
}

// Running lists the kinds with at least one run in flight.
func (t *Tracker) Running() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds := make([]string, 0, len(t.running))
	for kind := range t.running {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
