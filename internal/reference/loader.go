package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sbinet/npyio"
)

// ErrDirNotFound is returned when the embeddings directory does not exist.
var ErrDirNotFound = errors.New("embeddings directory not found")

// Supported reference file extensions.
const (
	extNPY  = ".npy"
	extJSON = ".json"
)

// LoadDir reads one identity per .npy or .json file in dir (not recursive); the file stem
// is the person name. Unreadable files are logged and skipped.
func LoadDir(dir string, logger *slog.Logger) (*Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var identities []Identity
	seen := make(map[string]string)
	var dim int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != extNPY && ext != extJSON {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name := CanonicalName(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))

		if prev, dup := seen[name]; dup {
			logger.Warn("duplicate identity, keeping first file", "person", name, "kept", prev, "skipped", path)
			continue
		}

		vec, err := ReadVector(path)
		if err != nil {
			logger.Warn("skipping reference file", "path", path, "error", err)
			continue
		}
		if Normalize(vec) == nil {
			logger.Warn("skipping reference file", "path", path, "error", ErrEmptyVector)
			continue
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			logger.Warn("skipping reference file with mismatched dimension", "path", path, "dim", len(vec), "expected", dim)
			continue
		}

		seen[name] = path
		identities = append(identities, Identity{Name: name, Vector: vec})
		logger.Debug("loaded reference identity", "person", name, "dim", len(vec))
	}

	set, err := NewSet(identities)
	if err != nil {
		return nil, err
	}
	logger.Info("reference identities loaded", "dir", dir, "count", set.Len())
	return set, nil
}

// ReadVector reads a single feature vector from a .npy or .json file.
func ReadVector(path string) ([]float32, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extNPY:
		return readNPY(path)
	case extJSON:
		return readJSON(path)
	default:
		return nil, fmt.Errorf("unsupported reference file %s", filepath.Base(path))
	}
}

// readNPY accepts float32/float64 arrays of shape (D,) or (N,D). With N > 1 the rows are averaged.
func readNPY(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}

	shape := r.Header.Descr.Shape
	rows, dim := 1, 0
	switch len(shape) {
	case 1:
		dim = shape[0]
	case 2:
		rows, dim = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("unsupported npy shape %v", shape)
	}
	if rows == 0 || dim == 0 {
		return nil, ErrEmptyVector
	}

	values := make([]float64, rows*dim)
	switch descr := r.Header.Descr.Type; {
	case strings.HasSuffix(descr, "f4"):
		raw := make([]float32, rows*dim)
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("reading npy data: %w", err)
		}
		for i, v := range raw {
			values[i] = float64(v)
		}
	case strings.HasSuffix(descr, "f8"):
		if err := r.Read(&values); err != nil {
			return nil, fmt.Errorf("reading npy data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	return meanRows(values, rows, dim), nil
}

func meanRows(values []float64, rows, dim int) []float32 {
	out := make([]float32, dim)
	for j := range dim {
		var sum float64
		for i := range rows {
			sum += values[i*dim+j]
		}
		out[j] = float32(sum / float64(rows))
	}
	return out
}

// readJSON accepts either a bare array of numbers or an object with an "embedding" array.
func readJSON(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err == nil {
		return vec, nil
	}

	var doc struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if len(doc.Embedding) == 0 {
		return nil, ErrEmptyVector
	}
	return doc.Embedding, nil
}
