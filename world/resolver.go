package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps file identities to physical paths. Workspace identities are
// contained under the workspace root; package identities are contained under
// repository-root/namespace/name/version. Any resolution that would escape
// its domain fails with access denied.
type Resolver struct {
	root    string // absolute workspace root
	pkgRoot string // absolute package repository root, "" if unconfigured
}

// NewResolver builds a resolver over an existing workspace root and an
// optional package repository root. Both paths are made absolute here;
// existence is the caller's construction contract.
func NewResolver(root, pkgRoot string) (*Resolver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", root, err)
	}
	r := &Resolver{root: absRoot}
	if pkgRoot != "" {
		absPkg, err := filepath.Abs(pkgRoot)
		if err != nil {
			return nil, fmt.Errorf("package root %q: %w", pkgRoot, err)
		}
		r.pkgRoot = absPkg
	}
	return r, nil
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve validates an identity and returns the physical path it denotes.
// The path exists at the time of the call; content errors (directory,
// encoding) surface when the caller reads it.
func (r *Resolver) Resolve(id FileID) (string, error) {
	base := r.root
	if id.HasPackage() {
		if r.pkgRoot == "" {
			return "", fileErr(KindAccessDenied, id, fmt.Errorf("no package repository configured"))
		}
		for _, component := range []string{id.Pkg.Namespace, id.Pkg.Name, id.Pkg.Version} {
			if !validComponent(component) {
				return "", fileErr(KindAccessDenied, id, fmt.Errorf("invalid package component %q", component))
			}
		}
		base = filepath.Join(r.pkgRoot, id.Pkg.Namespace, id.Pkg.Name, id.Pkg.Version)
	}

	candidate := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(cleanVirtual(id.Path), "/")))

	// The resolved path must stay under base.
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fileErr(KindAccessDenied, id, err)
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fileErr(KindAccessDenied, id, fmt.Errorf("path escapes %s", base))
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", fileErr(KindNotFound, id, nil)
		}
		if os.IsPermission(err) {
			return "", fileErr(KindAccessDenied, id, err)
		}
		return "", fileErr(KindIO, id, err)
	}
	return abs, nil
}

// validComponent rejects package path components that could be abused for
// traversal: empty, dot segments, separators, NUL.
func validComponent(c string) bool {
	if c == "" || c == "." || c == ".." {
		return false
	}
	return !strings.ContainsAny(c, "/\\\x00")
}
