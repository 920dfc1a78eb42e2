// Package organizer runs organize jobs: it scans an input folder, detects and
// matches faces on a bounded worker pool and copies matched photos into
// per-person folders, while exposing consistent progress snapshots.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/facecache"
	"github.com/kozaktomas/face-organizer/internal/placement"
	"github.com/kozaktomas/face-organizer/internal/reference"
	"github.com/kozaktomas/face-organizer/internal/scanner"
)

var (
	// ErrJobActive is returned when a job is already initializing or running.
	ErrJobActive = errors.New("an organize job is already running")
	// ErrNoReferences is returned when no reference identities are loaded.
	ErrNoReferences = errors.New("no reference embeddings loaded")
	// ErrDetectorInit is returned when the face detector cannot be prepared.
	ErrDetectorInit = errors.New("face detector initialization failed")
	// ErrInvalidThreshold is returned for thresholds outside [0,1].
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")
	// ErrInvalidOutputPath is returned when the output folder is missing or cannot be created.
	ErrInvalidOutputPath = errors.New("invalid output folder")
)

// StartRequest describes one organize run.
type StartRequest struct {
	InputPath       string
	OutputPath      string
	Threshold       float64
	AllOrientations bool
	// EmbeddingsDir, when set, replaces the reference set before the job starts.
	EmbeddingsDir string
}

// Options configures a Manager.
type Options struct {
	Detector    detector.Detector
	References  *reference.Set
	Cache       *facecache.Cache
	Workers     int
	ItemTimeout time.Duration
	Logger      *slog.Logger
}

// Manager owns the single organize job and the reference set it matches against.
// All job mutation and snapshots go through mu.
type Manager struct {
	detector    detector.Detector
	cache       *facecache.Cache
	workers     int
	itemTimeout time.Duration
	logger      *slog.Logger

	events EventBroadcaster

	mu   sync.Mutex
	refs *reference.Set
	job  *job
}

// NewManager creates a manager. Workers <= 0 selects the hardware concurrency;
// the pool never exceeds constants.MaxWorkers.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		detector:    opts.Detector,
		cache:       opts.Cache,
		workers:     poolSize(opts.Workers),
		itemTimeout: opts.ItemTimeout,
		logger:      logger,
		refs:        opts.References,
	}
}

func poolSize(requested int) int {
	n := runtime.NumCPU()
	if requested > 0 {
		n = requested
	}
	return max(1, min(n, constants.MaxWorkers))
}

// Workers returns the pool size.
func (m *Manager) Workers() int {
	return m.workers
}

// Events returns the broadcaster carrying job events.
func (m *Manager) Events() *EventBroadcaster {
	return &m.events
}

// busyLocked reports whether a job is running or still draining workers.
func (m *Manager) busyLocked() bool {
	if m.job == nil {
		return false
	}
	return m.job.status.Running() || !m.job.finished()
}

// Status returns the status of the current job, or StatusIdle when none ran yet.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil {
		return StatusIdle
	}
	return m.job.status
}

// References returns the loaded reference set (possibly empty).
func (m *Manager) References() *reference.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// SetReferences replaces the reference set. It fails with ErrJobActive while a job runs.
func (m *Manager) SetReferences(set *reference.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked() {
		return ErrJobActive
	}
	m.refs = set
	return nil
}

// LoadReferences loads a reference directory and replaces the set atomically.
// It returns the number of identities loaded.
func (m *Manager) LoadReferences(dir string) (int, error) {
	m.mu.Lock()
	busy := m.busyLocked()
	m.mu.Unlock()
	if busy {
		return 0, ErrJobActive
	}

	set, err := reference.LoadDir(dir, m.logger)
	if err != nil {
		return 0, err
	}
	if err := m.SetReferences(set); err != nil {
		return 0, err
	}
	return set.Len(), nil
}

// Start validates req, prepares the detector and launches the job in the background.
// Errors returned before the job is created leave the previous job untouched.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if math.IsNaN(req.Threshold) || req.Threshold < 0 || req.Threshold > 1 {
		return "", fmt.Errorf("%w: %v", ErrInvalidThreshold, req.Threshold)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidOutputPath)
	}
	if info, err := os.Stat(req.InputPath); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", scanner.ErrPathNotFound, req.InputPath)
	}

	m.mu.Lock()
	if m.busyLocked() {
		m.mu.Unlock()
		return "", ErrJobActive
	}
	j := newJob(uuid.New().String(), req)
	m.job = j
	m.mu.Unlock()

	log := m.logger.With("job_id", j.id)
	log.Info("initializing organize job", "input", req.InputPath, "output", req.OutputPath,
		"threshold", req.Threshold, "all_orientations", req.AllOrientations)

	if req.EmbeddingsDir != "" {
		set, err := reference.LoadDir(req.EmbeddingsDir, m.logger)
		if err != nil {
			m.fail(j, err.Error())
			return "", err
		}
		m.mu.Lock()
		m.refs = set
		m.mu.Unlock()
	}

	refs := m.References()
	if refs.Len() == 0 {
		m.fail(j, ErrNoReferences.Error())
		return "", ErrNoReferences
	}

	if err := os.MkdirAll(req.OutputPath, 0o755); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidOutputPath, err)
		m.fail(j, err.Error())
		return "", err
	}
	lock, err := placement.LockRoot(req.OutputPath)
	if err != nil {
		m.fail(j, err.Error())
		return "", err
	}

	if m.detector == nil {
		lock.Unlock()
		err := fmt.Errorf("%w: no detector configured", ErrDetectorInit)
		m.fail(j, err.Error())
		return "", err
	}
	if err := m.detector.Prepare(ctx); err != nil {
		lock.Unlock()
		err = fmt.Errorf("%w: %v", ErrDetectorInit, err)
		m.fail(j, err.Error())
		return "", err
	}

	m.mu.Lock()
	j.refs = refs
	j.status = StatusActive
	j.progress = Progress{}
	j.persons = make(map[string]*PersonResult)
	j.startedAt = time.Now()
	m.mu.Unlock()

	log.Info("organize job started", "references", refs.Len(), "workers", m.workers)
	m.events.SendEvent(Event{Type: EventStarted, JobID: j.id, Message: "Organize job started"})

	go m.run(j, lock)

	return j.id, nil
}

// fail moves j to Failed and releases waiters.
func (m *Manager) fail(j *job, msg string) {
	m.mu.Lock()
	j.status = StatusFailed
	j.errMsg = msg
	j.progress.CurrentFile = ""
	j.progress.CurrentPerson = ""
	j.endedAt = time.Now()
	m.mu.Unlock()
	j.markDone()

	m.logger.Error("organize job failed", "job_id", j.id, "error", msg)
	m.events.SendEvent(Event{Type: EventError, JobID: j.id, Message: msg})
}

// RequestCancel asks the running job to stop. It returns false when nothing is running.
// In-flight detection is not interrupted.
func (m *Manager) RequestCancel() bool {
	m.mu.Lock()
	j := m.job
	running := j != nil && j.status.Running()
	m.mu.Unlock()
	if !running {
		return false
	}
	j.requestCancel()
	m.logger.Info("cancellation requested", "job_id", j.id)
	return true
}

// Progress returns a snapshot of the current job.
func (m *Manager) Progress() ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil {
		return ProgressSnapshot{Status: StatusIdle, Persons: []PersonResult{}}
	}
	return m.job.progressSnapshot()
}

// Results returns the organized photos of the current job.
func (m *Manager) Results() ResultsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil {
		return ResultsSnapshot{Status: StatusIdle, Persons: []PersonResult{}}
	}
	return m.job.resultsSnapshot()
}

// Wait blocks until the current job has finished and all its workers returned.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	j := m.job
	m.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
