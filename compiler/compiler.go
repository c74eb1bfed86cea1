package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goodguyjay/typstgo/engine"
	"github.com/goodguyjay/typstgo/world"
)

var ErrCompilerClosed = errors.New("compiler closed")

// Compiler is one typesetting session: a workspace, a main source, and a
// registration with the engine. Not safe for concurrent use.
type Compiler struct {
	eng    *engine.Engine
	world  *world.World
	handle engine.WorldHandle
	logger *slog.Logger
	closed bool
}

// New creates a session rooted at the given workspace directory. It
// validates the roots and inputs, discovers fonts, and registers the
// session with the engine; on any failure nothing is left registered.
//
// Reads during compilation are confined to root and, for package imports,
// the configured package repository.
func New(root string, opts ...Option) (*Compiler, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	eng := cfg.engine
	if eng == nil {
		var err error
		eng, err = engine.Default()
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	w, err := world.New(root, world.Config{
		PackageDir:        cfg.packagePath,
		FontDirs:          cfg.fontPaths,
		SystemFonts:       cfg.systemFonts,
		InputsJSON:        cfg.inputsJSON,
		CreationTimestamp: cfg.creation,
	})
	if err != nil {
		return nil, err
	}
	if cfg.source != "" {
		w.SetMain(cfg.source)
	}

	handle, err := eng.NewWorld(context.Background(), w)
	if err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	return &Compiler{
		eng:    eng,
		world:  w,
		handle: handle,
		logger: cfg.logger,
	}, nil
}

// UpdateSource replaces the main source text. It does not compile; the
// next Compile observes the new text.
func (c *Compiler) UpdateSource(text string) {
	c.world.SetMain(text)
}

// Source returns the current main source text.
func (c *Compiler) Source() string {
	return c.world.MainText()
}

// Root returns the absolute workspace root.
func (c *Compiler) Root() string {
	return c.world.Root()
}

// Compile typesets the current main source. Compile problems come back as
// res.Diagnostics with res.Success false; res.Error is reserved for the
// session or engine being unusable. On success res.Document is live until
// closed, independent of this Compiler.
func (c *Compiler) Compile(ctx context.Context) Result {
	start := time.Now()
	if c.closed {
		return Result{Error: ErrCompilerClosed, Duration: time.Since(start)}
	}

	raw, err := c.eng.Compile(ctx, c.handle)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}

	diags := translateDiagnostics(c.world, raw.Diagnostics)
	if !raw.Success && len(diags) == 0 {
		// A failed compile must explain itself.
		diags = []Diagnostic{{Severity: SeverityError, Message: "compilation failed"}}
	}

	res := Result{
		Success:     raw.Success,
		Diagnostics: diags,
		Duration:    time.Since(start),
	}
	if !raw.Success {
		return res
	}

	pages, err := c.eng.PageCount(ctx, raw.Document)
	if err != nil {
		c.eng.FreeDocument(ctx, raw.Document)
		return Result{Error: err, Diagnostics: diags, Duration: time.Since(start)}
	}
	res.Document = &Document{eng: c.eng, handle: raw.Document, pages: pages}
	res.Duration = time.Since(start)

	c.logger.Debug("compiled",
		"root", c.world.Root(),
		"pages", pages,
		"warnings", len(diags),
		"duration", res.Duration)
	return res
}

// Close releases the session's engine registration. Idempotent. Documents
// returned by earlier compiles stay valid.
func (c *Compiler) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.eng.FreeWorld(context.Background(), c.handle)
}

// EvictCache drops memoized engine state older than maxAge; zero evicts
// everything. It is safe at any time, including with no sessions live, and
// is a no-op when the shared engine was never created. Sessions on a
// custom engine (WithEngine) evict through that engine directly.
func EvictCache(ctx context.Context, maxAge time.Duration) error {
	if !engine.Initialized() {
		return nil
	}
	eng, err := engine.Default()
	if err != nil {
		return err
	}
	return eng.CacheEvict(ctx, maxAge)
}
