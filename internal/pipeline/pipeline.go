// Package pipeline sequences a capture session into a heart-rate estimate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/heartica/internal/buffer"
	"github.com/verte-zerg/heartica/internal/dataset"
	"github.com/verte-zerg/heartica/internal/engine"
	"github.com/verte-zerg/heartica/internal/model"
)

// ErrNoSession is returned by ProcessSession when no session was begun or
// the most recent one was already processed.
var ErrNoSession = errors.New("no session to process")

// SampleBuffer is the session writer used by a Controller.
type SampleBuffer interface {
	BeginSession() (string, error)
	AppendSample(model.Sample)
	EndSession() error
	Path() string
	StartedAt() time.Time
	Count() int64
}

// Decomposer is the external decomposition engine.
type Decomposer interface {
	Ready() bool
	Decompose(ctx context.Context, datasetPath string) (model.Decomposition, error)
}

// HistoryRecorder persists processed sessions.
type HistoryRecorder interface {
	InsertSession(ctx context.Context, rec model.SessionRecord) (int64, error)
}

// Options configures a Controller.
type Options struct {
	// History is optional. Failures to record history are logged only.
	History HistoryRecorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// Controller runs one session at a time through the decomposition engine.
type Controller struct {
	buf     SampleBuffer
	dec     Decomposer
	history HistoryRecorder
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	last    model.Decomposition
	hasLast bool
	// processed is the dataset of the last successful decomposition.
	processed string
}

// New wires a Controller. The caller keeps ownership of dec and releases it.
func New(buf SampleBuffer, dec Decomposer, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		buf:     buf,
		dec:     dec,
		history: opts.History,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Begin opens a new session and returns its dataset path.
func (c *Controller) Begin() (string, error) {
	path, err := c.buf.BeginSession()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.processed = ""
	c.mu.Unlock()
	return path, nil
}

// Record appends one sample to the open session. It is safe to call from a
// capture goroutine while another goroutine ends the session.
func (c *Controller) Record(s model.Sample) {
	c.buf.AppendSample(s)
}

// Abort closes the open session without processing it. The dataset is kept.
func (c *Controller) Abort() error {
	return c.buf.EndSession()
}

// ProcessSession closes the session, decomposes its dataset and returns the
// larger band-filtered candidate. When keepDataset is false the dataset is
// deleted, but only after a successful decomposition.
func (c *Controller) ProcessSession(ctx context.Context, keepDataset bool) (float64, error) {
	if err := c.buf.EndSession(); err != nil {
		return 0, fmt.Errorf("failed to close session: %w", err)
	}
	path := c.buf.Path()
	if path == "" || c.wasProcessed(path) {
		return 0, ErrNoSession
	}
	rec := model.SessionRecord{
		DatasetPath: path,
		StartedAt:   c.buf.StartedAt(),
		EndedAt:     c.now(),
		SampleCount: c.buf.Count(),
	}
	return c.process(ctx, rec, keepDataset)
}

// ProcessDataset decomposes an existing dataset outside of a live session.
func (c *Controller) ProcessDataset(ctx context.Context, path string, keepDataset bool) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &buffer.DatasetError{Op: "open", Path: path, Err: err}
	}
	samples, err := dataset.ReadFile(path)
	if err != nil {
		return 0, &buffer.DatasetError{Op: "read", Path: path, Err: err}
	}
	rec := model.SessionRecord{
		DatasetPath: path,
		EndedAt:     info.ModTime(),
		StartedAt:   info.ModTime(),
		SampleCount: int64(len(samples)),
	}
	if len(samples) > 1 {
		span := samples[len(samples)-1].ElapsedMs - samples[0].ElapsedMs
		rec.StartedAt = rec.EndedAt.Add(-time.Duration(span) * time.Millisecond)
	}
	return c.process(ctx, rec, keepDataset)
}

// LastResult returns all four candidates of the most recent successful
// decomposition.
func (c *Controller) LastResult() (model.Decomposition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

func (c *Controller) wasProcessed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed == path
}

func (c *Controller) process(ctx context.Context, rec model.SessionRecord, keepDataset bool) (float64, error) {
	if !c.dec.Ready() {
		return 0, engine.ErrUninitialized
	}
	result, err := c.dec.Decompose(ctx, rec.DatasetPath)
	if err != nil {
		return 0, fmt.Errorf("failed to decompose %s: %w", rec.DatasetPath, err)
	}
	heartRate := result.HeartRate()

	c.mu.Lock()
	c.last = result
	c.hasLast = true
	c.processed = rec.DatasetPath
	c.mu.Unlock()

	rec.ID = uuid.NewString()
	rec.Result = result
	rec.HeartRate = heartRate
	rec.DatasetKept = true

	var removeErr error
	if !keepDataset {
		if err := os.Remove(rec.DatasetPath); err != nil {
			removeErr = &buffer.DatasetError{Op: "delete", Path: rec.DatasetPath, Err: err}
		} else {
			rec.DatasetKept = false
		}
	}

	c.logger.Info("session processed", "dataset", rec.DatasetPath, "samples", rec.SampleCount,
		"heart_rate", heartRate, "kept", rec.DatasetKept)
	c.recordHistory(ctx, rec)

	if removeErr != nil {
		return 0, removeErr
	}
	return heartRate, nil
}

func (c *Controller) recordHistory(ctx context.Context, rec model.SessionRecord) {
	if c.history == nil {
		return
	}
	if _, err := c.history.InsertSession(ctx, rec); err != nil {
		c.logger.Warn("failed to record session history", "dataset", rec.DatasetPath, "err", err)
	}
}
