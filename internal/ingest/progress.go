// Package ingest triggers backend literature ingestion and reports progress
// while the request is outstanding.
package ingest

import (
	"sync"
	"time"
)

// Stage is a labelled progress threshold.
type Stage struct {
	Threshold int
	Label     string
}

const (
	LabelCompleted = "Completed"
	LabelFailed    = "Failed"
)

// DefaultStages mirror the backend's ingestion pipeline.
var DefaultStages = []Stage{
	{0, "Preparing search keywords"},
	{10, "Searching OpenAlex"},
	{35, "Querying Crossref"},
	{60, "Filtering and ranking papers"},
	{85, "Saving papers to project"},
}

// Snapshot is what a progress display renders.
type Snapshot struct {
	Percent int    `json:"percent"`
	Label   string `json:"label"`
	Done    bool   `json:"done"`
	Failed  bool   `json:"failed"`
}

// LabelFor returns the label of the last stage whose threshold is <= percent.
func LabelFor(stages []Stage, percent int) string {
	label := ""
	for _, s := range stages {
		if s.Threshold <= percent {
			label = s.Label
		}
	}
	return label
}

// Tracker estimates progress from elapsed time over a fixed duration.
// It never reports 100 until Finish is called.
type Tracker struct {
	mu       sync.Mutex
	stages   []Stage
	duration time.Duration
	start    time.Time
	now      func() time.Time
	final    *Snapshot
}

// NewTracker starts a tracker at now().
func NewTracker(duration time.Duration, stages []Stage, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if len(stages) == 0 {
		stages = DefaultStages
	}
	return &Tracker{stages: stages, duration: duration, start: now(), now: now}
}

func (t *Tracker) percentLocked() int {
	if t.duration <= 0 {
		return 99
	}
	elapsed := t.now().Sub(t.start)
	if elapsed < 0 {
		return 0
	}
	pct := int(elapsed * 100 / t.duration)
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Snapshot returns the current estimate, or the final state after Finish.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.final != nil {
		return *t.final
	}
	pct := t.percentLocked()
	return Snapshot{Percent: pct, Label: LabelFor(t.stages, pct)}
}

// Finish pins the tracker. On success it reads 100/Completed; on failure it
// keeps the percent reached and reads Failed. Later calls are ignored.
func (t *Tracker) Finish(err error) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.final != nil {
		return *t.final
	}
	s := Snapshot{Done: true}
	if err != nil {
		s.Percent = t.percentLocked()
		s.Label = LabelFailed
		s.Failed = true
	} else {
		s.Percent = 100
		s.Label = LabelCompleted
	}
	t.final = &s
	return s
}

// ProgressSource supplies snapshots for one ingestion run. A status poller
// against the backend can replace TimedSource without changing the labels.
type ProgressSource interface {
	Snapshot() Snapshot
	Finish(err error) Snapshot
}

// TimedSource is the simulated ProgressSource.
type TimedSource struct {
	*Tracker
}

// NewTimedSource builds a TimedSource over DefaultStages.
func NewTimedSource(duration time.Duration, now func() time.Time) *TimedSource {
	return &TimedSource{Tracker: NewTracker(duration, DefaultStages, now)}
}
