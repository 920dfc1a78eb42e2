// Package placement copies matched photos into per-person folders under an
// output root without ever overwriting an existing file.
package placement

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

const (
	unknownPerson = "unknown"
	maxSuffix     = 100000
)

// Placer copies photos into <root>/<person>/. It is safe for concurrent use.
type Placer struct {
	root string

	mu      sync.Mutex
	folders map[string]*sync.Mutex
}

// NewPlacer creates a placer writing below root.
func NewPlacer(root string) *Placer {
	return &Placer{root: root, folders: make(map[string]*sync.Mutex)}
}

// Root returns the output root.
func (p *Placer) Root() string {
	return p.root
}

func (p *Placer) folderLock(dir string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.folders[dir]
	if !ok {
		m = &sync.Mutex{}
		p.folders[dir] = m
	}
	return m
}

// Place copies photoPath into the folder of personName and returns the new path.
// When the file name is taken, _1, _2, ... is inserted before the extension.
// The copy keeps the source permissions and modification time; when they cannot
// be applied the copy is removed and an error returned.
func (p *Placer) Place(photoPath, personName string) (string, error) {
	src, err := os.Open(photoPath)
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source is a directory: %s", photoPath)
	}

	dir := filepath.Join(p.root, SanitizeName(personName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating person folder: %w", err)
	}

	lock := p.folderLock(dir)
	lock.Lock()
	dst, dstPath, err := reserve(dir, filepath.Base(photoPath), info.Mode().Perm())
	lock.Unlock()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copying photo: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("closing copy: %w", err)
	}
	if err := copyMetadata(dstPath, info); err != nil {
		os.Remove(dstPath)
		return "", err
	}
	return dstPath, nil
}

// copyMetadata applies the source permissions and modification time to dst.
var copyMetadata = func(dst string, src fs.FileInfo) error {
	// OpenFile is subject to umask
	if err := os.Chmod(dst, src.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := os.Chtimes(dst, src.ModTime(), src.ModTime()); err != nil {
		return fmt.Errorf("setting modification time: %w", err)
	}
	return nil
}

// reserve creates the first free destination name exclusively. O_EXCL guards
// against writers outside this process that the folder mutex cannot see.
func reserve(dir, base string, perm fs.FileMode) (*os.File, string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 0; i < maxSuffix; i++ {
		name := base
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0o200)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("reserving destination: %w", err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", base, dir)
}

// SanitizeName turns a person name into a single safe path component.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return unknownPerson
	}
	return out
}
