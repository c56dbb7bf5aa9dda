package harvest

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseFetching    Phase = "fetching"
	PhaseWriting     Phase = "writing"
	PhaseDone        Phase = "done"
)

// CategoryReport summarizes the crawl of one category.
type CategoryReport struct {
	Path       string `json:"path"`
	Target     int    `json:"target"`
	Discovered int    `json:"discovered"`
	New        int    `json:"new"`
	Increments int    `json:"increments"`
	Partial    bool   `json:"partial"`
	Error      string `json:"error,omitempty"`
}

// Progress is a point-in-time copy of a run's counters.
type Progress struct {
	RunID           string           `json:"run_id,omitempty"`
	Phase           Phase            `json:"phase"`
	StartedAt       time.Time        `json:"started_at,omitempty"`
	CurrentCategory string           `json:"current_category,omitempty"`
	Categories      []CategoryReport `json:"categories"`
	URLs            int              `json:"urls"`
	Processed       int              `json:"processed"`
	Accepted        int              `json:"accepted"`
	Filtered        int              `json:"filtered"`
	Failed          int              `json:"failed"`
	Dropped         int              `json:"dropped"`
}

// Tracker holds the progress of the current run. The driver writes it and
// the status server reads it.
type Tracker struct {
	mu sync.RWMutex
	p  Progress
}

func NewTracker() *Tracker {
	return &Tracker{p: Progress{Phase: PhaseIdle}}
}

func (t *Tracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := t.p
	p.Categories = append([]CategoryReport(nil), t.p.Categories...)
	return p
}

func (t *Tracker) update(fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
}

func (t *Tracker) start(runID string) {
	t.update(func(p *Progress) {
		*p = Progress{RunID: runID, Phase: PhaseDiscovering, StartedAt: time.Now()}
	})
}

func (t *Tracker) setPhase(phase Phase) {
	t.update(func(p *Progress) {
		p.Phase = phase
		p.CurrentCategory = ""
	})
}
