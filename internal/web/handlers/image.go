package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-organizer/internal/scanner"
)

// ServeImage returns the raw bytes of an image file given by ?path=.
// The content type follows the file extension.
func ServeImage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if !scanner.IsSupported(path) {
		respondError(w, http.StatusBadRequest, "unsupported image type")
		return
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondError(w, http.StatusNotFound, "image not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to open image")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
