// Package scanner enumerates image files below an input folder.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kozaktomas/face-organizer/internal/constants"
)

// ErrPathNotFound is returned when the root folder does not exist or is not a directory.
var ErrPathNotFound = errors.New("path not found")

// IsSupported reports whether the file name has one of the supported image extensions.
func IsSupported(name string) bool {
	return slices.Contains(constants.SupportedExtensions, strings.ToLower(filepath.Ext(name)))
}

// Scan walks root recursively and returns every supported image path in lexical order.
// A root without images yields an empty slice and no error.
func Scan(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrPathNotFound, root)
	}

	paths := []string{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subfolders are skipped, the root itself was checked above
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if IsSupported(d.Name()) && isRegularFile(path, d) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return paths, nil
}

// isRegularFile accepts regular files and symlinks that resolve to one.
// Symlinked directories are not descended into.
func isRegularFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
