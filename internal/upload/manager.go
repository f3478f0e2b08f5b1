// Package upload is the bounded-concurrency upload queue. Files are admitted
// in FIFO order, at most Limit at a time, and each one is sent to the backend
// for review with live progress, cancel and retry.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ismart-scholar/workbench/internal/backend"
	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/metrics"
	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/source"
)

var (
	ErrTaskNotFound = errors.New("upload task not found")
	ErrNotRetryable = errors.New("only finished, failed or canceled uploads can be retried")
	ErrNotInFlight  = errors.New("upload is not in flight")
	ErrClosed       = errors.New("upload manager is closed")
)

// Uploader sends one file for review. *backend.Client implements it.
type Uploader interface {
	UploadAndReview(ctx context.Context, projectID int64, name string, size int64, content io.Reader, onProgress backend.ProgressFunc) (*models.UploadResponse, error)
}

// ProjectSelector reports the project uploads go to. *session.Session implements it.
type ProjectSelector interface {
	SelectedProjectID() (int64, bool)
}

// ResultSink receives every successful result. *storage.DuckStore implements it.
type ResultSink interface {
	RecordResult(ctx context.Context, projectID int64, res models.UploadResult) error
}

// Discarder is implemented by files whose backing copy is owned by the
// queue, such as files staged by the local API. Discard is called once the
// task using the file leaves the list, or when the file is not enqueued.
type Discarder interface {
	Discard() error
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Concurrency      int
	RetickDelay      time.Duration
	ProgressInterval time.Duration
	Sink             ResultSink
	Bus              *events.Bus
	Logger           *logrus.Logger
}

const (
	DefaultConcurrency      = 3
	DefaultRetickDelay      = 80 * time.Millisecond
	DefaultProgressInterval = 100 * time.Millisecond
)

// Manager owns the task list, the pending queue and the in-flight slots.
type Manager struct {
	mu      sync.Mutex
	tasks   []*task
	byID    map[string]*task
	pending []string
	active  int
	results []models.UploadResult
	changed chan struct{}
	closed  bool

	limit            int
	retickDelay      time.Duration
	progressInterval time.Duration

	uploader Uploader
	projects ProjectSelector
	sink     ResultSink
	bus      *events.Bus
	logger   *logrus.Logger
	pool     *ants.Pool
	inflight sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a Manager and its worker pool.
func NewManager(uploader Uploader, projects ProjectSelector, opts Options) (*Manager, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RetickDelay <= 0 {
		opts.RetickDelay = DefaultRetickDelay
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	logger := opts.Logger
	pool, err := ants.NewPool(opts.Concurrency, ants.WithOptions(ants.Options{
		Nonblocking: false,
		PanicHandler: func(p any) {
			logger.WithField("panic", p).Error("upload worker panicked")
		},
		ExpiryDuration: 30 * time.Second,
	}))
	if err != nil {
		return nil, fmt.Errorf("creating upload pool: %w", err)
	}

	return &Manager{
		byID:             make(map[string]*task),
		changed:          make(chan struct{}),
		limit:            opts.Concurrency,
		retickDelay:      opts.RetickDelay,
		progressInterval: opts.ProgressInterval,
		uploader:         uploader,
		projects:         projects,
		sink:             opts.Sink,
		bus:              opts.Bus,
		logger:           opts.Logger,
		pool:             pool,
		now:              time.Now,
	}, nil
}

// transfer is one attempt of one task, as seen by the worker running it.
type transfer struct {
	id        string
	attempt   int
	projectID int64
	file      source.File
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time
}

// outcome is the terminal state an attempt ends in.
type outcome struct {
	status  Status
	message string
	result  *models.UploadResult
}

// signalLocked wakes everyone waiting on Changes. m.mu must be held.
func (m *Manager) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// AddFiles enqueues every file whose name+size is not already in the list
// (or earlier in the same batch) and starts as many as the limit allows.
// It returns the tasks that were added. Files that are not enqueued are
// discarded.
func (m *Manager) AddFiles(files []source.File) []TaskView {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discard(files...)
		return nil
	}

	seen := make(map[string]struct{}, len(m.tasks)+len(files))
	for _, t := range m.tasks {
		seen[dedupeKey(t.file.Name(), t.file.Size())] = struct{}{}
	}

	now := m.now()
	var added []TaskView
	var skipped []source.File
	for _, f := range files {
		key := dedupeKey(f.Name(), f.Size())
		if _, dup := seen[key]; dup {
			m.logger.WithField("file", f.Name()).Debug("skipping duplicate upload")
			skipped = append(skipped, f)
			continue
		}
		seen[key] = struct{}{}

		t := newTask(f, now)
		m.tasks = append(m.tasks, t)
		m.byID[t.id] = t
		m.pending = append(m.pending, t.id)
		added = append(added, t.view())
	}
	if len(added) > 0 {
		m.signalLocked()
	}
	m.mu.Unlock()

	m.discard(skipped...)
	m.Tick()
	return added
}

// discard drops the backing copies of files the queue no longer needs.
func (m *Manager) discard(files ...source.File) {
	for _, f := range files {
		d, ok := f.(Discarder)
		if !ok {
			continue
		}
		if err := d.Discard(); err != nil {
			m.logger.WithError(err).WithField("file", f.Name()).Warn("failed to discard upload file")
		}
	}
}

// Tick admits queued tasks in FIFO order while slots are free.
func (m *Manager) Tick() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var starts []*transfer
	changed := false
	for m.active < m.limit && len(m.pending) > 0 {
		id := m.pending[0]
		m.pending = m.pending[1:]

		t, ok := m.byID[id]
		if !ok || t.status != StatusQueued {
			continue
		}
		changed = true
		if tr := m.startLocked(t); tr != nil {
			starts = append(starts, tr)
		}
	}
	if changed {
		m.signalLocked()
	}
	m.mu.Unlock()

	for _, tr := range starts {
		m.submit(tr)
	}
}

// startLocked moves t to uploading and takes a slot, or fails it without a
// slot when no project is selected. m.mu must be held.
func (m *Manager) startLocked(t *task) *transfer {
	now := m.now()
	projectID, ok := m.projects.SelectedProjectID()
	if !ok {
		t.status = StatusError
		t.message = MsgNoProject
		t.progress = 0
		t.result = nil
		t.finishedAt = now
		metrics.RecordUpload(string(StatusError), 0, 0)
		m.logger.WithFields(logrus.Fields{"task": t.id, "file": t.file.Name()}).Warn("upload skipped: no project selected")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.status = StatusUploading
	t.progress = 0
	t.message = ""
	t.result = nil
	t.attempt++
	t.projectID = projectID
	t.startedAt = now
	t.finishedAt = time.Time{}
	t.cancel = cancel

	m.active++
	metrics.UploadsActive.Inc()

	m.logger.WithFields(logrus.Fields{
		"task":    t.id,
		"file":    t.file.Name(),
		"project": projectID,
		"attempt": t.attempt,
	}).Info("upload started")

	return &transfer{
		id:        t.id,
		attempt:   t.attempt,
		projectID: projectID,
		file:      t.file,
		ctx:       ctx,
		cancel:    cancel,
		started:   now,
	}
}

func (m *Manager) submit(tr *transfer) {
	m.inflight.Add(1)
	err := m.pool.Submit(func() {
		defer m.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				m.finish(tr, outcome{status: StatusError, message: fmt.Sprintf("Upload failed (%v)", r)})
			}
		}()
		m.run(tr)
	})
	if err != nil {
		m.inflight.Done()
		m.finish(tr, outcome{status: StatusError, message: networkErrorMsg(err)})
	}
}

// run performs one transfer on a pool worker.
func (m *Manager) run(tr *transfer) {
	rc, err := tr.file.Open(tr.ctx)
	if err != nil {
		m.finish(tr, classify(tr.ctx, nil, err))
		return
	}
	defer rc.Close()

	throttle := rate.Sometimes{Interval: m.progressInterval}
	resp, err := m.uploader.UploadAndReview(tr.ctx, tr.projectID, tr.file.Name(), tr.file.Size(), rc,
		func(sent, total int64) {
			throttle.Do(func() { m.setProgress(tr, sent, total) })
		})
	m.finish(tr, classify(tr.ctx, resp, err))
}

// classify maps a transfer's result to exactly one terminal outcome.
func classify(ctx context.Context, resp *models.UploadResponse, err error) outcome {
	if ctx.Err() != nil {
		return outcome{status: StatusCanceled, message: MsgCanceled}
	}
	if err != nil {
		var se *backend.StatusError
		switch {
		case errors.As(err, &se):
			return outcome{status: StatusError, message: uploadFailedMsg(se.Status)}
		case errors.Is(err, backend.ErrDecode):
			return outcome{status: StatusError, message: MsgUnparsable}
		default:
			return outcome{status: StatusError, message: networkErrorMsg(err)}
		}
	}
	first, ok := resp.First()
	if !ok {
		return outcome{status: StatusError, message: MsgNoAnalysis}
	}
	return outcome{status: StatusDone, message: MsgAnalysisReady, result: &first}
}

// setProgress records upload progress for the current attempt only, and never
// after the attempt has been aborted.
func (m *Manager) setProgress(tr *transfer, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 100 / total)
	if pct > 100 {
		pct = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if tr.ctx.Err() != nil {
		return
	}
	t, ok := m.byID[tr.id]
	if !ok || t.attempt != tr.attempt || t.status != StatusUploading || pct <= t.progress {
		return
	}
	t.progress = pct
	m.signalLocked()
}

// finish applies out to the task of tr unless the task was removed or has
// moved on, then releases the slot. Every attempt passes through here once.
// The slot is held until the result is recorded and published, so a free
// slot always means a free pool worker.
func (m *Manager) finish(tr *transfer, out outcome) {
	m.mu.Lock()
	// An abort that landed before this point wins over whatever the server said.
	if tr.ctx.Err() != nil {
		out = outcome{status: StatusCanceled, message: MsgCanceled}
	}
	tr.cancel()

	t, ok := m.byID[tr.id]
	stale := !ok || t.attempt != tr.attempt || t.status != StatusUploading
	if !stale {
		t.status = out.status
		t.message = out.message
		t.result = out.result
		t.finishedAt = m.now()
		t.cancel = nil
		if out.status == StatusDone {
			t.progress = 100
			m.results = append(m.results, *out.result)
		}
		m.signalLocked()
	}
	m.mu.Unlock()

	elapsed := time.Since(tr.started)
	fields := logrus.Fields{
		"task":     tr.id,
		"file":     tr.file.Name(),
		"project":  tr.projectID,
		"attempt":  tr.attempt,
		"status":   out.status,
		"duration": elapsed.String(),
	}
	if stale {
		metrics.RecordUpload(string(StatusCanceled), elapsed, 0)
		m.logger.WithFields(fields).Debug("dropping completion of a removed upload")
		if !ok {
			m.discard(tr.file)
		}
	} else {
		metrics.RecordUpload(string(out.status), elapsed, tr.file.Size())
		entry := m.logger.WithFields(fields)
		if out.status == StatusError {
			entry.WithField("reason", out.message).Warn("upload failed")
		} else {
			entry.Info("upload finished")
		}
		if out.status == StatusDone {
			m.publishResult(tr, *out.result)
		}
	}

	m.mu.Lock()
	m.active--
	metrics.UploadsActive.Dec()
	closed := m.closed
	m.signalLocked()
	m.mu.Unlock()

	if !closed {
		time.AfterFunc(m.retickDelay, m.Tick)
	}
}

func (m *Manager) publishResult(tr *transfer, res models.UploadResult) {
	if m.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.sink.RecordResult(ctx, tr.projectID, res); err != nil {
			m.logger.WithError(err).WithField("task", tr.id).Warn("failed to record upload result")
		}
		cancel()
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Name:      events.ProjectLiteratureChanged,
			ProjectID: tr.projectID,
			Payload:   res,
		})
	}
}

// Cancel aborts the in-flight transfer of id. The task becomes canceled when
// its worker observes the abort.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.status != StatusUploading || t.cancel == nil {
		return ErrNotInFlight
	}
	t.cancel()
	m.logger.WithField("task", id).Info("upload cancel requested")
	return nil
}

// Retry requeues a finished, failed or canceled task.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	t, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if !t.status.Terminal() {
		m.mu.Unlock()
		return ErrNotRetryable
	}

	t.status = StatusQueued
	t.progress = 0
	t.message = ""
	t.result = nil
	t.startedAt = time.Time{}
	t.finishedAt = time.Time{}
	m.pending = append(m.pending, id)
	m.signalLocked()
	m.mu.Unlock()

	m.Tick()
	return nil
}

// Remove aborts id if it is in flight and drops it from the queue and the list.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	t, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	idle := m.dropLocked(t)

	kept := m.tasks[:0]
	for _, other := range m.tasks {
		if other.id != id {
			kept = append(kept, other)
		}
	}
	m.tasks = kept

	pending := m.pending[:0]
	for _, pid := range m.pending {
		if pid != id {
			pending = append(pending, pid)
		}
	}
	m.pending = pending

	m.signalLocked()
	m.mu.Unlock()

	m.discard(idle...)
	return nil
}

// dropLocked aborts t and forgets its id. It returns t's file when no
// worker holds it; an in-flight file is discarded by finish instead.
// m.mu must be held.
func (m *Manager) dropLocked(t *task) []source.File {
	delete(m.byID, t.id)
	if t.cancel != nil {
		t.cancel()
		return nil
	}
	return []source.File{t.file}
}

// ClearAll aborts every in-flight transfer and empties the queue and the list.
// Results already collected are kept.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	var idle []source.File
	for _, t := range m.tasks {
		idle = append(idle, m.dropLocked(t)...)
	}
	m.tasks = nil
	m.pending = nil
	m.signalLocked()
	m.mu.Unlock()

	m.discard(idle...)
}

// CancelAll aborts every in-flight transfer and marks every queued task
// canceled. Tasks stay in the list so they can be retried.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, t := range m.tasks {
		switch t.status {
		case StatusUploading:
			if t.cancel != nil {
				t.cancel()
			}
		case StatusQueued:
			t.status = StatusCanceled
			t.message = MsgCanceled
			t.finishedAt = now
		}
	}
	m.pending = nil
	m.signalLocked()
}

// Close aborts everything, waits for workers to return and releases the pool.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, t := range m.tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	m.pending = nil
	m.signalLocked()
	m.mu.Unlock()

	m.inflight.Wait()
	m.pool.Release()

	m.mu.Lock()
	files := make([]source.File, 0, len(m.tasks))
	for _, t := range m.tasks {
		files = append(files, t.file)
	}
	m.mu.Unlock()
	m.discard(files...)
}

// Tasks returns snapshots of every task in list order.
func (m *Manager) Tasks() []TaskView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		views = append(views, t.view())
	}
	return views
}

// Task returns a snapshot of one task.
func (m *Manager) Task(id string) (TaskView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return TaskView{}, false
	}
	return t.view(), true
}

// Results returns successful results in arrival order.
func (m *Manager) Results() []models.UploadResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UploadResult(nil), m.results...)
}

// Stats counts tasks by status.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Active: m.active, Limit: m.limit}
	for _, t := range m.tasks {
		switch t.status {
		case StatusQueued:
			s.Queued++
		case StatusUploading:
			s.Uploading++
		case StatusDone:
			s.Done++
		case StatusError:
			s.Error++
		case StatusCanceled:
			s.Canceled++
		}
	}
	return s
}

// Changes returns a channel that is closed at the next state change.
// Call it again after every wake-up.
func (m *Manager) Changes() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Wait blocks until no task is queued or uploading, or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		busy := false
		for _, t := range m.tasks {
			if t.status == StatusQueued || t.status == StatusUploading {
				busy = true
				break
			}
		}
		ch := m.changed
		closed := m.closed
		m.mu.Unlock()

		if !busy || closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
