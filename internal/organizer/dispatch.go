package organizer

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kozaktomas/face-organizer/internal/constants"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/facecache"
	"github.com/kozaktomas/face-organizer/internal/imageio"
	"github.com/kozaktomas/face-organizer/internal/matcher"
	"github.com/kozaktomas/face-organizer/internal/placement"
	"github.com/kozaktomas/face-organizer/internal/scanner"
)

// itemResult is what a worker hands back to the collector.
type itemResult struct {
	path    string
	matches []PhotoMatch
	err     error
}

// run scans the input folder, fans paths out to the pool and folds results in
// completion order until the pool drains.
func (m *Manager) run(j *job, lock *placement.RootLock) {
	defer func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("failed to release output lock", "job_id", j.id, "error", err)
		}
	}()

	paths, err := scanner.Scan(j.inputPath)
	if err != nil || len(paths) == 0 {
		m.fail(j, fmt.Sprintf("no images found in %s (supported formats: %s)", j.inputPath, constants.SupportedFormats))
		return
	}

	m.mu.Lock()
	j.progress.Total = len(paths)
	m.mu.Unlock()
	m.logger.Info("photos found", "job_id", j.id, "total", len(paths))

	placer := placement.NewPlacer(j.outputPath)
	results := make(chan itemResult, m.workers)

	go func() {
		defer close(results)

		sem := make(chan struct{}, m.workers)
		var wg sync.WaitGroup

		for _, path := range paths {
			if j.cancelled() {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-j.cancelCh:
			}
			if j.cancelled() {
				break
			}

			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- m.processItem(j, placer, path)
			}(path)
		}
		wg.Wait()
	}()

	for res := range results {
		m.fold(j, res)
	}
	m.finish(j)
}

// fold records one completed item. After cancellation has been observed,
// results are drained without being counted.
func (m *Manager) fold(j *job, res itemResult) {
	m.mu.Lock()
	if j.status != StatusActive {
		m.mu.Unlock()
		return
	}
	if j.cancelled() {
		j.status = StatusCancelled
		j.progress.CurrentFile = ""
		j.progress.CurrentPerson = ""
		j.endedAt = time.Now()
		snapshot := j.progress
		m.mu.Unlock()

		m.logger.Info("organize job cancelled", "job_id", j.id, "scanned", snapshot.Scanned, "organized", snapshot.Organized)
		m.events.SendEvent(Event{Type: EventCancelled, JobID: j.id, Message: "Job cancelled by user", Data: snapshot})
		return
	}

	j.progress.Scanned++
	j.progress.CurrentFile = filepath.Base(res.path)
	for _, pm := range res.matches {
		j.progress.CurrentPerson = pm.PersonName
		j.record(pm)
	}
	progress := j.progress
	m.mu.Unlock()

	for _, pm := range res.matches {
		m.events.SendEvent(Event{Type: EventMatch, JobID: j.id, Data: pm})
	}
	m.events.SendEvent(Event{Type: EventProgress, JobID: j.id, Data: progress})
}

// finish moves a job that is still active once the pool drained to its final state.
func (m *Manager) finish(j *job) {
	m.mu.Lock()
	changed := j.status == StatusActive
	if changed {
		j.status = StatusCompleted
		if j.cancelled() {
			j.status = StatusCancelled
		}
		j.progress.CurrentFile = ""
		j.progress.CurrentPerson = ""
		j.endedAt = time.Now()
	}
	status := j.status
	progress := j.progress
	persons := j.personsCopy()
	m.mu.Unlock()
	j.markDone()

	if !changed {
		return
	}
	switch status {
	case StatusCompleted:
		m.logger.Info("organize job completed", "job_id", j.id, "scanned", progress.Scanned, "organized", progress.Organized)
		for _, p := range persons {
			m.logger.Info("person organized", "job_id", j.id, "person", p.Name, "photos", p.PhotoCount)
		}
		m.events.SendEvent(Event{Type: EventCompleted, JobID: j.id, Message: "Organize job completed", Data: progress})
	case StatusCancelled:
		m.events.SendEvent(Event{Type: EventCancelled, JobID: j.id, Message: "Job cancelled by user", Data: progress})
	}
}

// processItem detects, matches and places one photo. Detection and decode errors
// count as zero matches; placement errors drop only the affected person.
func (m *Manager) processItem(j *job, placer *placement.Placer, path string) itemResult {
	ctx := context.Background()
	if m.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.itemTimeout)
		defer cancel()
	}

	found, err := m.matchPhoto(ctx, j, path)
	if err != nil {
		m.logger.Warn("failed to process photo", "job_id", j.id, "path", path, "error", err)
		return itemResult{path: path, err: err}
	}

	var matches []PhotoMatch
	for _, match := range found {
		if j.cancelled() {
			break
		}
		newPath, err := placer.Place(path, match.Person)
		if err != nil {
			m.logger.Error("failed to place photo", "job_id", j.id, "path", path, "person", match.Person, "error", err)
			continue
		}
		matches = append(matches, PhotoMatch{
			OriginalPath: path,
			NewPath:      newPath,
			Filename:     filepath.Base(path),
			PersonName:   match.Person,
			Similarity:   match.Similarity,
			Timestamp:    time.Now(),
		})
	}
	return itemResult{path: path, matches: matches}
}

// matchPhoto returns the best match per person across the requested orientations.
func (m *Manager) matchPhoto(ctx context.Context, j *job, path string) ([]matcher.Match, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}

	rotations := []int{0}
	if j.allOrientations {
		rotations = constants.Orientations
	}

	var all []matcher.Match
	for _, rotation := range rotations {
		faces, err := m.detect(ctx, data, img, rotation)
		if err != nil {
			return nil, fmt.Errorf("detecting faces at %d°: %w", rotation, err)
		}
		all = append(all, matcher.MatchFaces(detector.Embeddings(faces), j.refs, j.threshold)...)
	}
	return matcher.BestPerPerson(all), nil
}

func (m *Manager) detect(ctx context.Context, data []byte, img image.Image, rotation int) ([]detector.Face, error) {
	key := facecache.Key(data, rotation)
	if faces, ok := m.cache.Get(key); ok {
		return faces, nil
	}
	faces, err := m.detector.Detect(ctx, imageio.Rotate(img, rotation))
	if err != nil {
		return nil, err
	}
	if err := m.cache.Put(key, faces); err != nil {
		m.logger.Warn("failed to store detection cache entry", "error", err)
	}
	return faces, nil
}
