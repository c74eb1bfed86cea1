package world

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// FontInventory is the set of font files visible to the engine, assembled
// once at World construction. Indices are stable for the inventory's
// lifetime; font bytes are loaded lazily and cached.
type FontInventory struct {
	paths []string
	data  map[int][]byte
}

// DiscoverFonts scans the given extra directories, plus the platform font
// directories when includeSystem is set, for font files. Directories that
// do not exist are skipped silently.
func DiscoverFonts(extraDirs []string, includeSystem bool) *FontInventory {
	dirs := append([]string(nil), extraDirs...)
	if includeSystem {
		dirs = append(dirs, systemFontDirs()...)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, dir := range dirs {
		filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !isFontFile(p) {
				return nil
			}
			abs, err := filepath.Abs(p)
			if err != nil || seen[abs] {
				return nil
			}
			seen[abs] = true
			paths = append(paths, abs)
			return nil
		})
	}
	sort.Strings(paths)

	return &FontInventory{paths: paths, data: make(map[int][]byte)}
}

// Count returns the number of discovered fonts.
func (f *FontInventory) Count() int {
	return len(f.paths)
}

// Path returns the file path of the font at index i.
func (f *FontInventory) Path(i int) (string, bool) {
	if i < 0 || i >= len(f.paths) {
		return "", false
	}
	return f.paths[i], true
}

// Data returns the bytes of the font at index i, reading the file on first
// access and caching for the inventory's lifetime.
func (f *FontInventory) Data(i int) ([]byte, error) {
	if i < 0 || i >= len(f.paths) {
		return nil, fmt.Errorf("font index %d out of range (%d fonts)", i, len(f.paths))
	}
	if b, ok := f.data[i]; ok {
		return b, nil
	}
	b, err := os.ReadFile(f.paths[i])
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", f.paths[i], err)
	}
	f.data[i] = b
	return b, nil
}

func isFontFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".ttf", ".otf", ".ttc", ".otc":
		return true
	}
	return false
}

func systemFontDirs() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Library/Fonts",
			"/System/Library/Fonts",
			filepath.Join(home, "Library", "Fonts"),
		}
	case "windows":
		windir := os.Getenv("WINDIR")
		if windir == "" {
			windir = `C:\Windows`
		}
		return []string{filepath.Join(windir, "Fonts")}
	default:
		return []string{
			"/usr/share/fonts",
			"/usr/local/share/fonts",
			filepath.Join(home, ".local", "share", "fonts"),
			filepath.Join(home, ".fonts"),
		}
	}
}
