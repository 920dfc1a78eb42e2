package config

import (
	_ "embed"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-organizer/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Detector   DetectorConfig
	Embeddings EmbeddingsConfig
	Organizer  OrganizerConfig
	Cache      CacheConfig
	Log        LogConfig
	Web        WebConfig
	Defaults   Defaults
}

type DetectorConfig struct {
	URL          string // face embedding server, defaults to http://localhost:8000
	MaxImageSize int    // longest edge sent to the detector
}

type EmbeddingsConfig struct {
	Dir string // directory with one reference vector file per person (optional)
}

type OrganizerConfig struct {
	Workers     int           // requested pool size, always capped at constants.MaxWorkers
	ItemTimeout time.Duration // per-photo detection timeout, 0 disables
}

type CacheConfig struct {
	Enabled bool
	Dir     string // on-disk detection cache, empty keeps the cache in memory only
}

type LogConfig struct {
	Level slog.Level
	File  string // optional JSON log file
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // extra CORS origins, localhost is always allowed
}

// Defaults holds the values shipped in the embedded defaults.yaml.
type Defaults struct {
	Threshold ThresholdDefaults `yaml:"threshold"`
	Detector  struct {
		URL          string `yaml:"url"`
		MaxImageSize int    `yaml:"max_image_size"`
	} `yaml:"detector"`
	Web struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"web"`
}

type ThresholdDefaults struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in [0,1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration parses durations like "90s"; a bare "0" disables the timeout.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if s == "0" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadDefaults() Defaults {
	var d Defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	defaults := loadDefaults()
	defaults.Threshold.Default = envFloat("SIMILARITY_THRESHOLD", defaults.Threshold.Default)

	detectorURL := os.Getenv("DETECTOR_URL")
	if detectorURL == "" {
		detectorURL = defaults.Detector.URL
	}
	host := os.Getenv("WEB_HOST")
	if host == "" {
		host = defaults.Web.Host
	}

	return &Config{
		Detector: DetectorConfig{
			URL:          detectorURL,
			MaxImageSize: envInt("DETECTOR_MAX_IMAGE_SIZE", defaults.Detector.MaxImageSize),
		},
		Embeddings: EmbeddingsConfig{
			Dir: os.Getenv("EMBEDDINGS_DIR"),
		},
		Organizer: OrganizerConfig{
			Workers:     envInt("WORKERS", 0),
			ItemTimeout: envDuration("ITEM_TIMEOUT", constants.DefaultItemTimeout),
		},
		Cache: CacheConfig{
			Enabled: envBool("CACHE_ENABLED", true),
			Dir:     os.Getenv("CACHE_DIR"),
		},
		Log: LogConfig{
			Level: parseLevel(os.Getenv("LOG_LEVEL")),
			File:  os.Getenv("LOG_FILE"),
		},
		Web: WebConfig{
			Host:           host,
			Port:           envInt("WEB_PORT", defaults.Web.Port),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Defaults: defaults,
	}
}
