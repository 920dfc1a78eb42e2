package organizer

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-organizer/internal/reference"
)

// Status represents the lifecycle state of an organize job.
type Status string

// Status constants define the lifecycle states of an organize job.
const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Running reports whether s blocks a new job from starting.
func (s Status) Running() bool {
	return s == StatusInitializing || s == StatusActive
}

// Progress holds the counters of a job.
type Progress struct {
	Scanned       int    `json:"scanned"`
	Total         int    `json:"total"`
	Organized     int    `json:"organized"`
	CurrentFile   string `json:"current_file"`
	CurrentPerson string `json:"current_person"`
}

// PhotoMatch records one photo copied into one person's folder.
type PhotoMatch struct {
	OriginalPath string    `json:"original_path"`
	NewPath      string    `json:"new_path"`
	Filename     string    `json:"filename"`
	PersonName   string    `json:"person_name"`
	Similarity   float64   `json:"similarity"`
	Timestamp    time.Time `json:"timestamp"`
}

// PersonResult accumulates the photos organized for one person.
type PersonResult struct {
	Name       string       `json:"name"`
	PhotoCount int          `json:"photo_count"`
	Photos     []PhotoMatch `json:"photos"`
}

// ProgressSnapshot is a point-in-time copy of the job state.
type ProgressSnapshot struct {
	JobID       string         `json:"job_id,omitempty"`
	Status      Status         `json:"status"`
	Active      bool           `json:"active"`
	Progress    Progress       `json:"progress"`
	Persons     []PersonResult `json:"persons"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ResultsSnapshot is a point-in-time copy of the organized photos.
type ResultsSnapshot struct {
	JobID          string         `json:"job_id,omitempty"`
	Status         Status         `json:"status"`
	Persons        []PersonResult `json:"persons"`
	TotalScanned   int            `json:"total_scanned"`
	TotalOrganized int            `json:"total_organized"`
	Error          string         `json:"error,omitempty"`
}

// job is one organize run. Everything except the cancel fields is guarded
// by the owning Manager's mutex.
type job struct {
	id              string
	status          Status
	inputPath       string
	outputPath      string
	threshold       float64
	allOrientations bool
	refs            *reference.Set

	progress  Progress
	persons   map[string]*PersonResult
	errMsg    string
	startedAt time.Time
	endedAt   time.Time

	cancelRequested atomic.Bool
	cancelOnce      sync.Once
	cancelCh        chan struct{}
	done            chan struct{}
	doneOnce        sync.Once
}

func newJob(id string, req StartRequest) *job {
	return &job{
		id:              id,
		status:          StatusInitializing,
		inputPath:       req.InputPath,
		outputPath:      req.OutputPath,
		threshold:       req.Threshold,
		allOrientations: req.AllOrientations,
		persons:         make(map[string]*PersonResult),
		cancelCh:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// requestCancel sets the cancel flag; it is never cleared.
func (j *job) requestCancel() {
	j.cancelOnce.Do(func() {
		j.cancelRequested.Store(true)
		close(j.cancelCh)
	})
}

func (j *job) cancelled() bool {
	return j.cancelRequested.Load()
}

func (j *job) markDone() {
	j.doneOnce.Do(func() { close(j.done) })
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// record appends a placement. Caller holds the manager mutex.
func (j *job) record(m PhotoMatch) {
	p, ok := j.persons[m.PersonName]
	if !ok {
		p = &PersonResult{Name: m.PersonName}
		j.persons[m.PersonName] = p
	}
	p.Photos = append(p.Photos, m)
	p.PhotoCount++
	j.progress.Organized++
}

// personsCopy returns a deep copy of the per-person results ordered by name.
func (j *job) personsCopy() []PersonResult {
	out := make([]PersonResult, 0, len(j.persons))
	for _, p := range j.persons {
		out = append(out, PersonResult{
			Name:       p.Name,
			PhotoCount: p.PhotoCount,
			Photos:     slices.Clone(p.Photos),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (j *job) progressSnapshot() ProgressSnapshot {
	s := ProgressSnapshot{
		JobID:    j.id,
		Status:   j.status,
		Active:   j.status.Running(),
		Progress: j.progress,
		Persons:  j.personsCopy(),
		Error:    j.errMsg,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.endedAt.IsZero() {
		t := j.endedAt
		s.CompletedAt = &t
	}
	return s
}

func (j *job) resultsSnapshot() ResultsSnapshot {
	return ResultsSnapshot{
		JobID:          j.id,
		Status:         j.status,
		Persons:        j.personsCopy(),
		TotalScanned:   j.progress.Scanned,
		TotalOrganized: j.progress.Organized,
		Error:          j.errMsg,
	}
}
