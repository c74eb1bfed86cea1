package compiler

import (
	"log/slog"
	"time"

	"github.com/goodguyjay/typstgo/engine"
)

// Option configures a Compiler at creation time.
type Option func(*config)

type config struct {
	source      string
	inputsJSON  []byte
	packagePath string
	fontPaths   []string
	systemFonts bool
	creation    *time.Time
	logger      *slog.Logger
	engine      *engine.Engine
}

func defaultConfig() config {
	return config{
		systemFonts: true,
		logger:      slog.Default(),
	}
}

// WithSource sets the initial main source text.
func WithSource(text string) Option {
	return func(c *config) {
		c.source = text
	}
}

// WithInputsJSON supplies the values visible to documents as sys.inputs.
// It must be a JSON object; creation fails otherwise.
func WithInputsJSON(raw []byte) Option {
	return func(c *config) {
		c.inputsJSON = raw
	}
}

// WithPackagePath sets the package repository root, laid out as
// namespace/name/version directories. Package imports fail without one.
func WithPackagePath(dir string) Option {
	return func(c *config) {
		c.packagePath = dir
	}
}

// WithFontPaths adds font search directories on top of the system ones.
func WithFontPaths(dirs ...string) Option {
	return func(c *config) {
		c.fontPaths = append(c.fontPaths, dirs...)
	}
}

// WithSystemFonts controls whether the platform font directories are
// searched. Enabled by default; disable for reproducible environments.
func WithSystemFonts(enabled bool) Option {
	return func(c *config) {
		c.systemFonts = enabled
	}
}

// WithCreationTimestamp pins the date documents observe, for reproducible
// builds. Unset, documents see the wall clock.
func WithCreationTimestamp(t time.Time) Option {
	return func(c *config) {
		c.creation = &t
	}
}

// WithLogger sets the session logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEngine runs the session on a specific engine instead of the shared
// process-wide one.
func WithEngine(e *engine.Engine) Option {
	return func(c *config) {
		c.engine = e
	}
}
