// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Scanning constants
const (
	// SupportedFormats is the human-readable list of image formats the scanner picks up.
	SupportedFormats = "JPG, JPEG, PNG, BMP, TIFF, GIF"
)

// SupportedExtensions lists the lower-case file extensions picked up by the scanner.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".gif"}

// Matching constants
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a face to match a person
	DefaultSimilarityThreshold = 0.5

	// MinSimilarityThreshold and MaxSimilarityThreshold bound the range offered to users
	MinSimilarityThreshold = 0.3
	MaxSimilarityThreshold = 0.9

	// DefaultIdentifyLimit is the default number of nearest identities reported per face
	DefaultIdentifyLimit = 3

	// MaxIdentifyLimit caps the number of nearest identities per face
	MaxIdentifyLimit = 20
)

// Orientations are the clockwise rotations tried in all-orientations mode.
var Orientations = []int{0, 90, 180, 270}

// Processing constants
const (
	// MaxWorkers caps the worker pool regardless of hardware concurrency
	MaxWorkers = 8

	// DefaultItemTimeout bounds a single detection call
	DefaultItemTimeout = 2 * time.Minute

	// MaxImageSize is the maximum dimension (width or height) of images sent to the detector
	MaxImageSize = 1920

	// ProgressPollInterval is how often the CLI refreshes its progress bar
	ProgressPollInterval = 200 * time.Millisecond
)

// Web constants
const (
	// MaxUploadSize is the maximum size of an uploaded image (32 MB)
	MaxUploadSize = 32 << 20
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// HNSW constants
const (
	// HNSWMaxNeighbors is the M parameter of the reference identity graph
	HNSWMaxNeighbors = 16
)
