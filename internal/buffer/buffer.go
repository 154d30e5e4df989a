// Package buffer persists the samples of one capture session to a CSV dataset.
//
// A Buffer has two states. BeginSession moves it from closed to open and
// starts a writer goroutine that owns the dataset file. AppendSample queues
// rows for that writer in call order. EndSession drains the queue, closes
// the file and moves the buffer back to closed.
//
// AppendSample may race with EndSession from another goroutine. Once the
// session is closed every AppendSample is a silent no-op.
package buffer

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verte-zerg/heartica/internal/dataset"
	"github.com/verte-zerg/heartica/internal/model"
)

const (
	filePrefix       = "NormHeartRate_"
	fileExt          = ".csv"
	defaultQueueSize = 4096
)

var (
	// ErrDatasetExists is returned when the dataset path of a new session is taken.
	ErrDatasetExists = errors.New("dataset already exists")
	// ErrSessionOpen is returned by BeginSession while a session is open.
	ErrSessionOpen = errors.New("session already open")
)

// DatasetError reports a create, write, or close failure on a dataset file.
type DatasetError struct {
	Op   string
	Path string
	Err  error
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DatasetError) Unwrap() error {
	return e.Err
}

// Options configures a Buffer.
type Options struct {
	// Now supplies session start timestamps. Defaults to time.Now.
	Now func() time.Time
	// QueueSize bounds the number of rows waiting for the writer.
	QueueSize int
	Logger    *slog.Logger
}

// Buffer writes samples for at most one open session at a time.
type Buffer struct {
	dir    string
	now    func() time.Time
	qsize  int
	logger *slog.Logger

	// mu serializes the lifecycle. AppendSample holds it for reading while
	// enqueueing so EndSession cannot close the queue under it.
	mu   sync.RWMutex
	open atomic.Bool
	sess *session
}

type session struct {
	path      string
	startedAt time.Time
	rows      chan model.Sample
	done      chan struct{}
	count     atomic.Int64
	err       error
}

// New returns a closed Buffer that creates datasets in dir.
func New(dir string, opts Options) *Buffer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Buffer{
		dir:    dir,
		now:    opts.Now,
		qsize:  opts.QueueSize,
		logger: opts.Logger,
	}
}

// DatasetPath builds the dataset path for a session started at t.
func DatasetPath(dir string, t time.Time) string {
	name := fmt.Sprintf("%s%s%03d%s", filePrefix, t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond), fileExt)
	return filepath.Join(dir, name)
}

// BeginSession creates a new dataset, writes its header, and opens the session.
func (b *Buffer) BeginSession() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open.Load() {
		return "", ErrSessionOpen
	}

	startedAt := b.now()
	path := DatasetPath(b.dir, startedAt)
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", &DatasetError{Op: "create", Path: path, Err: err}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &DatasetError{Op: "create", Path: path, Err: ErrDatasetExists}
		}
		return "", &DatasetError{Op: "create", Path: path, Err: err}
	}
	w := bufio.NewWriter(file)
	if _, err := w.WriteString(dataset.Header + "\n"); err != nil {
		_ = file.Close()
		return "", &DatasetError{Op: "write", Path: path, Err: err}
	}

	sess := &session{
		path:      path,
		startedAt: startedAt,
		rows:      make(chan model.Sample, b.qsize),
		done:      make(chan struct{}),
	}
	go sess.writeLoop(file, w)

	b.sess = sess
	b.open.Store(true)
	b.logger.Debug("session started", "path", path)
	return path, nil
}

// AppendSample queues s for the open session. It never fails: when no
// session is open, including after EndSession, the call does nothing.
func (b *Buffer) AppendSample(s model.Sample) {
	if !b.open.Load() {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.open.Load() {
		return
	}
	b.sess.rows <- s
	b.sess.count.Add(1)
}

// EndSession flushes and closes the dataset. Calling it without an open
// session is a no-op.
func (b *Buffer) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open.Load() {
		return nil
	}
	b.open.Store(false)
	sess := b.sess
	close(sess.rows)
	<-sess.done
	b.logger.Debug("session ended", "path", sess.path, "samples", sess.count.Load())
	return sess.err
}

// IsOpen reports whether a session is currently open.
func (b *Buffer) IsOpen() bool {
	return b.open.Load()
}

// Path returns the dataset path of the current or most recent session.
func (b *Buffer) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return ""
	}
	return b.sess.path
}

// StartedAt returns the start time of the current or most recent session.
func (b *Buffer) StartedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return time.Time{}
	}
	return b.sess.startedAt
}

// Count returns the number of samples accepted in the current or most
// recent session.
func (b *Buffer) Count() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return 0
	}
	return b.sess.count.Load()
}

// writeLoop is the only code touching file. It keeps draining rows after a
// write error so senders never block on a dead writer.
func (s *session) writeLoop(file *os.File, w *bufio.Writer) {
	defer close(s.done)

	var line []byte
	for sample := range s.rows {
		if s.err != nil {
			continue
		}
		line = dataset.AppendRow(line[:0], sample)
		if _, err := w.Write(line); err != nil {
			s.err = &DatasetError{Op: "write", Path: s.path, Err: err}
		}
	}

	if s.err == nil {
		if err := w.Flush(); err != nil {
			s.err = &DatasetError{Op: "write", Path: s.path, Err: err}
		}
	}
	if s.err == nil {
		if err := file.Sync(); err != nil {
			s.err = &DatasetError{Op: "sync", Path: s.path, Err: err}
		}
	}
	if err := file.Close(); err != nil && s.err == nil {
		s.err = &DatasetError{Op: "close", Path: s.path, Err: err}
	}
}
