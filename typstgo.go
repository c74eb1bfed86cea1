package typstgo

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/goodguyjay/typstgo/compiler"
	"github.com/goodguyjay/typstgo/engine"
)

// Result of a one-shot render. Success reports whether compilation and
// rendering went through; compile problems land in Diagnostics, while
// Error carries setup and engine failures.
type Result struct {
	Success     bool
	Pages       [][]byte // RenderSVG: one SVG document per page
	PDF         []byte   // RenderPDF: the whole document
	Diagnostics []compiler.Diagnostic
	Duration    time.Duration
	Error       error
}

// Config tunes a one-shot render.
type Config struct {
	Root        string        // workspace root; empty renders in a private temp dir
	Timeout     time.Duration // wall-clock bound for the whole render
	FontPaths   []string
	SystemFonts bool
	PackagePath string            // package repository root for @namespace imports
	Inputs      map[string]string // exposed to the document as sys.inputs
	Engine      *engine.Engine    // nil uses the shared process engine
}

func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		SystemFonts: true,
	}
}

// RenderSVG compiles source and renders every page to SVG.
func RenderSVG(source string, cfg Config) Result {
	return render(source, cfg, "svg")
}

// RenderPDF compiles source and renders the document to PDF.
func RenderPDF(source string, cfg Config) Result {
	return render(source, cfg, "pdf")
}

func render(source string, cfg Config, format string) Result {
	start := time.Now()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fail := func(err error) Result {
		return Result{Duration: time.Since(start), Error: err}
	}

	root := cfg.Root
	if root == "" {
		tmp, err := os.MkdirTemp("", "typstgo-")
		if err != nil {
			return fail(err)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	}

	opts := []compiler.Option{
		compiler.WithSource(source),
		compiler.WithSystemFonts(cfg.SystemFonts),
	}
	if len(cfg.FontPaths) > 0 {
		opts = append(opts, compiler.WithFontPaths(cfg.FontPaths...))
	}
	if cfg.PackagePath != "" {
		opts = append(opts, compiler.WithPackagePath(cfg.PackagePath))
	}
	if len(cfg.Inputs) > 0 {
		raw, err := json.Marshal(cfg.Inputs)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, compiler.WithInputsJSON(raw))
	}
	if cfg.Engine != nil {
		opts = append(opts, compiler.WithEngine(cfg.Engine))
	}

	comp, err := compiler.New(root, opts...)
	if err != nil {
		return fail(err)
	}
	defer comp.Close()

	res := comp.Compile(ctx)
	out := Result{
		Success:     res.Success,
		Diagnostics: res.Diagnostics,
		Error:       res.Error,
	}
	if res.Error != nil || !res.Success {
		out.Duration = time.Since(start)
		return out
	}
	defer res.Document.Close()

	switch format {
	case "pdf":
		data, err := res.Document.RenderPDF(ctx)
		if err != nil {
			out.Success = false
			out.Error = err
		} else {
			out.PDF = data
		}
	default:
		if res.Document.PageCount() > 0 {
			pages, err := res.Document.RenderSVGAll(ctx)
			if err != nil {
				out.Success = false
				out.Error = err
			} else {
				out.Pages = pages
			}
		}
	}
	out.Duration = time.Since(start)
	return out
}
