package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/models"
)

// Starter triggers ingestion. *backend.Client implements it.
type Starter interface {
	StartIngest(ctx context.Context, projectID int64, opts models.IngestOptions) (models.IngestResult, error)
}

// Runner runs one ingestion and streams progress snapshots.
type Runner struct {
	starter  Starter
	duration time.Duration
	interval time.Duration
	bus      *events.Bus
	logger   *logrus.Logger

	// NewSource builds the progress source for a run. Defaults to a TimedSource.
	NewSource func() ProgressSource
}

// NewRunner creates a Runner. bus may be nil.
func NewRunner(starter Starter, duration, interval time.Duration, bus *events.Bus, logger *logrus.Logger) *Runner {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	r := &Runner{
		starter:  starter,
		duration: duration,
		interval: interval,
		bus:      bus,
		logger:   logger,
	}
	r.NewSource = func() ProgressSource { return NewTimedSource(r.duration, nil) }
	return r
}

// Run calls StartIngest and invokes onUpdate every interval until it
// returns. The final snapshot is always delivered, after which Run returns
// the backend's result.
func (r *Runner) Run(ctx context.Context, projectID int64, opts models.IngestOptions, onUpdate func(Snapshot)) (models.IngestResult, error) {
	if onUpdate == nil {
		onUpdate = func(Snapshot) {}
	}
	src := r.NewSource()

	type reply struct {
		res models.IngestResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := r.starter.StartIngest(ctx, projectID, opts)
		done <- reply{res, err}
	}()

	log := r.logger.WithField("project", projectID)
	log.WithField("pages_per_keyword", opts.PagesPerKeyword).Info("ingestion started")
	started := time.Now()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	onUpdate(src.Snapshot())
	for {
		select {
		case <-ticker.C:
			onUpdate(src.Snapshot())
		case rep := <-done:
			final := src.Finish(rep.err)
			onUpdate(final)
			if rep.err != nil {
				log.WithError(rep.err).Warn("ingestion failed")
				return nil, rep.err
			}
			log.WithField("duration", time.Since(started).String()).Info("ingestion finished")
			if r.bus != nil {
				r.bus.Publish(events.Event{Name: events.ProjectPapersChanged, ProjectID: projectID})
			}
			return rep.res, nil
		}
	}
}
