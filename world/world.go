package world

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"
)

// Config carries the construction parameters for a World. All fields are
// optional; the zero value is a world over the root alone.
type Config struct {
	// PackageDir is the package repository root. Package imports fail with
	// access denied when unset.
	PackageDir string
	// FontDirs are extra font search directories.
	FontDirs []string
	// SystemFonts includes the platform font directories in the inventory.
	SystemFonts bool
	// InputsJSON is the caller-supplied structured input, a JSON object.
	InputsJSON []byte
	// CreationTimestamp pins the engine-visible date for reproducible
	// builds.
	CreationTimestamp *time.Time
}

// World provides the engine's view of the filesystem, fonts, and clock for
// one compiler session. The main document lives in memory under MainID and
// is never resolved through the filesystem; every other identity goes
// through the path sandbox once per cache miss.
type World struct {
	resolver *Resolver
	fonts    *FontInventory
	inputs   []byte

	mainSrc *Source
	sources map[FileID]*Source

	now      func() time.Time
	creation *time.Time
}

// New validates the roots and assembles a World. It fails if the workspace
// root does not exist or is not a directory, if the package directory is
// set but invalid, or if the inputs are not a well-formed JSON object.
func New(root string, cfg Config) (*World, error) {
	if err := checkDir("workspace root", root); err != nil {
		return nil, err
	}
	if cfg.PackageDir != "" {
		if err := checkDir("package directory", cfg.PackageDir); err != nil {
			return nil, err
		}
	}

	resolver, err := NewResolver(root, cfg.PackageDir)
	if err != nil {
		return nil, err
	}

	inputs, err := EncodeInputs(cfg.InputsJSON)
	if err != nil {
		return nil, err
	}

	return &World{
		resolver: resolver,
		fonts:    DiscoverFonts(cfg.FontDirs, cfg.SystemFonts),
		inputs:   inputs,
		mainSrc:  NewSource(MainID, ""),
		sources:  make(map[FileID]*Source),
		now:      time.Now,
		creation: cfg.CreationTimestamp,
	}, nil
}

func checkDir(what, p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("%s %q: %w", what, p, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", what, p)
	}
	return nil
}

// SetMain replaces the main document text. Subsequent resolutions of the
// main identity observe only the new text.
func (w *World) SetMain(text string) {
	w.mainSrc = NewSource(MainID, text)
}

// MainText returns the current main document text.
func (w *World) MainText() string {
	return w.mainSrc.Text
}

// Root returns the absolute workspace root.
func (w *World) Root() string {
	return w.resolver.Root()
}

// Inputs returns the encoded structured inputs, nil when none were given.
func (w *World) Inputs() []byte {
	return w.inputs
}

// Fonts returns the font inventory.
func (w *World) Fonts() *FontInventory {
	return w.fonts
}

// Source returns the text source for an identity: the in-memory main for
// MainID, a cached source on a hit, otherwise a sandbox resolution plus a
// file read. Sources are cached for the World's lifetime.
func (w *World) Source(id FileID) (*Source, error) {
	if id == MainID {
		return w.mainSrc, nil
	}
	if s, ok := w.sources[id]; ok {
		return s, nil
	}

	data, err := w.read(id)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fileErr(KindNotUTF8, id, nil)
	}

	s := NewSource(id, string(data))
	w.sources[id] = s
	return s, nil
}

// CachedSource returns a source without touching the filesystem: the main
// source or a cache hit. Diagnostic translation resolves spans through
// this, so a span in a file the engine never read stays unresolved.
func (w *World) CachedSource(id FileID) (*Source, bool) {
	if id == MainID {
		return w.mainSrc, true
	}
	s, ok := w.sources[id]
	return s, ok
}

// File returns the raw bytes for an identity, used for non-text assets.
// Unlike Source, the main identity is not special-cased here.
func (w *World) File(id FileID) ([]byte, error) {
	return w.read(id)
}

func (w *World) read(id FileID) ([]byte, error) {
	p, err := w.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
		return nil, fileErr(KindIsDirectory, id, nil)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fileErr(KindNotFound, id, nil)
		case os.IsPermission(err):
			return nil, fileErr(KindAccessDenied, id, err)
		default:
			return nil, fileErr(KindIO, id, err)
		}
	}
	return data, nil
}
