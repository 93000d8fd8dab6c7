package ingest

import (
	"sync"
	"time"

	"github.com/otherjamesbrown/dealbook/pkg/merge"
)

// Progress tracks an import run as it moves through sources and rows.
type Progress struct {
	mu sync.RWMutex

	TotalSources     int
	ProcessedSources int
	RowsProcessed    int
	Created          int
	Updated          int
	Unchanged        int
	Skipped          int
	Errored          int

	CurrentSource string
	Status        string

	StartedAt time.Time
	UpdatedAt time.Time

	onUpdate func(ProgressSnapshot)
}

// NewProgress creates a tracker for totalSources sources.
func NewProgress(totalSources int) *Progress {
	now := time.Now()
	return &Progress{
		TotalSources: totalSources,
		Status:       "pending",
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// SetOnUpdate sets a callback run after every change.
func (p *Progress) SetOnUpdate(fn func(ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

func (p *Progress) update(fn func()) {
	p.mu.Lock()
	fn()
	p.UpdatedAt = time.Now()
	cb := p.onUpdate
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Start marks the run as running.
func (p *Progress) Start() {
	p.update(func() {
		p.Status = "running"
		p.StartedAt = time.Now()
	})
}

// SetCurrentSource records the source being imported.
func (p *Progress) SetCurrentSource(name string) {
	p.update(func() { p.CurrentSource = name })
}

// SourceDone counts a finished source.
func (p *Progress) SourceDone() {
	p.update(func() { p.ProcessedSources++ })
}

// RecordOutcome counts a row written through the merge engine.
func (p *Progress) RecordOutcome(o merge.Outcome) {
	p.update(func() {
		p.RowsProcessed++
		switch o {
		case merge.Created:
			p.Created++
		case merge.Updated:
			p.Updated++
		default:
			p.Unchanged++
		}
	})
}

// RecordSkipped counts a row that was not written.
func (p *Progress) RecordSkipped() {
	p.update(func() {
		p.RowsProcessed++
		p.Skipped++
	})
}

// RecordErrored counts a row that failed with a recoverable error.
func (p *Progress) RecordErrored() {
	p.update(func() {
		p.RowsProcessed++
		p.Errored++
	})
}

// Complete marks the run as finished.
func (p *Progress) Complete(success bool) {
	p.update(func() {
		if success {
			p.Status = "completed"
		} else {
			p.Status = "failed"
		}
	})
}

// Cancel marks the run as cancelled.
func (p *Progress) Cancel() {
	p.update(func() { p.Status = "cancelled" })
}

// Snapshot returns a read-only copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	return ProgressSnapshot{
		TotalSources:     p.TotalSources,
		ProcessedSources: p.ProcessedSources,
		RowsProcessed:    p.RowsProcessed,
		Created:          p.Created,
		Updated:          p.Updated,
		Unchanged:        p.Unchanged,
		Skipped:          p.Skipped,
		Errored:          p.Errored,
		CurrentSource:    p.CurrentSource,
		Status:           p.Status,
		StartedAt:        p.StartedAt,
		ElapsedSeconds:   time.Since(p.StartedAt).Seconds(),
	}
}

// ProgressSnapshot is an immutable copy of progress state.
type ProgressSnapshot struct {
	TotalSources     int
	ProcessedSources int
	RowsProcessed    int
	Created          int
	Updated          int
	Unchanged        int
	Skipped          int
	Errored          int
	CurrentSource    string
	Status           string
	StartedAt        time.Time
	ElapsedSeconds   float64
}

// PercentComplete returns the share of sources finished.
func (s ProgressSnapshot) PercentComplete() float64 {
	if s.TotalSources == 0 {
		return 0
	}
	return float64(s.ProcessedSources) / float64(s.TotalSources) * 100
}

// IsComplete reports whether every source has been processed.
func (s ProgressSnapshot) IsComplete() bool {
	return s.ProcessedSources >= s.TotalSources
}

// IsSuccess reports whether the run completed without errored rows.
func (s ProgressSnapshot) IsSuccess() bool {
	return s.Status == "completed" && s.Errored == 0
}
