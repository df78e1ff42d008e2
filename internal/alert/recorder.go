package alert

import (
	"context"
	"sync"
)

// Recorded is one captured warning.
type Recorded struct {
	Title  string
	Detail string
}

// Recorder keeps warnings in memory. Used by tests and the inline CLI.
type Recorder struct {
	mu       sync.Mutex
	warnings []Recorded
	next     Alerter
}

var _ Alerter = (*Recorder)(nil)

// NewRecorder creates a recorder that also forwards to next when non-nil.
func NewRecorder(next Alerter) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Warning(ctx context.Context, title, detail string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, Recorded{Title: title, Detail: detail})
	r.mu.Unlock()
	if r.next != nil {
		r.next.Warning(ctx, title, detail)
	}
}

// Warnings returns a copy of everything recorded so far.
func (r *Recorder) Warnings() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.warnings...)
}
