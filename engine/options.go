package engine

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Option configures the Engine at creation time.
type Option func(*config)

type config struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	logger           *slog.Logger
	module           []byte // Guest binary override, nil = embedded module
}

func defaultConfig() config {
	return config{
		diskCache: false,
		logger:    slog.Default(),
	}
}

// WithDiskCache enables a persistent compilation cache so the guest module
// does not have to be recompiled on every process start.
// Optionally provide a custom directory; otherwise uses ~/.cache/typstgo or
// XDG_CACHE_HOME/typstgo.
//
// Examples:
//
//	engine.New(engine.WithDiskCache())            // default dir
//	engine.New(engine.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to the guest module.
// Each page is 64KB. Default is 0 (no limit, up to 4GB). Compiling large
// documents with many fonts can need several hundred MB.
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithLogger sets the logger that receives messages the guest emits through
// the log_message host import. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithModule overrides the embedded guest binary. Mainly useful for tests
// and for loading a guest built against a different engine version.
func WithModule(wasm []byte) Option {
	return func(c *config) {
		c.module = wasm
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "typstgo")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "typstgo")
	}
	return filepath.Join(os.TempDir(), "typstgo-cache")
}
