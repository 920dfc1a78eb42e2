package cmd

import (
	"log/slog"

	"github.com/kozaktomas/face-organizer/internal/config"
	"github.com/kozaktomas/face-organizer/internal/detector"
	"github.com/kozaktomas/face-organizer/internal/facecache"
	"github.com/kozaktomas/face-organizer/internal/logging"
	"github.com/kozaktomas/face-organizer/internal/organizer"
	"github.com/kozaktomas/face-organizer/internal/reference"
)

// app bundles what the commands share: logger, detector and the job manager.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	detector *detector.HTTPDetector
	manager  *organizer.Manager
}

// newApp wires the organizer from cfg. A reference directory that cannot be
// loaded is logged and leaves the set empty; jobs then fail with "no references".
func newApp(cfg *config.Config) *app {
	logger, closeLog := logging.Setup(cfg.Log.File, cfg.Log.Level)
	slog.SetDefault(logger)

	var cache *facecache.Cache
	if cfg.Cache.Enabled {
		c, err := facecache.New(cfg.Cache.Dir)
		if err != nil {
			logger.Warn("detection cache disabled", "error", err)
		} else {
			cache = c
		}
	}

	var refs *reference.Set
	if cfg.Embeddings.Dir != "" {
		set, err := reference.LoadDir(cfg.Embeddings.Dir, logger)
		if err != nil {
			logger.Warn("failed to load reference embeddings", "dir", cfg.Embeddings.Dir, "error", err)
		} else {
			refs = set
		}
	}

	det := detector.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.MaxImageSize)
	m := organizer.NewManager(organizer.Options{
		Detector:    det,
		References:  refs,
		Cache:       cache,
		Workers:     cfg.Organizer.Workers,
		ItemTimeout: cfg.Organizer.ItemTimeout,
		Logger:      logger,
	})

	return &app{cfg: cfg, logger: logger, closeLog: closeLog, detector: det, manager: m}
}

func (a *app) close() {
	_ = a.closeLog()
}
