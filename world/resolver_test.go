package world

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func kindOf(t *testing.T, err error) FileErrorKind {
	t.Helper()
	var fe *FileError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FileError, got %T: %v", err, err)
	}
	return fe.Kind
}

func TestResolveWorkspace(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "chapters", "one.typ"), "= One")

	r, err := NewResolver(root, "")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	got, err := r.Resolve(FileID{Path: "/chapters/one.typ"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := filepath.Join(root, "chapters", "one.typ")
	if got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r, err := NewResolver(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	_, err = r.Resolve(FileID{Path: "/missing.typ"})
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if kind := kindOf(t, err); kind != KindNotFound {
		t.Errorf("kind = %v, want %v", kind, KindNotFound)
	}
}

func TestResolveTraversal(t *testing.T) {
	root := t.TempDir()
	// A real file outside the root that traversal would reach.
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	writeFile(t, outside, "secret")
	t.Cleanup(func() { os.Remove(outside) })

	r, err := NewResolver(root, "")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"parent escape", "/../secret.txt"},
		{"deep escape", "/a/../../secret.txt"},
		{"many dots", "/../../../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(FileID{Path: tt.path})
			if err == nil {
				t.Fatal("expected resolution to fail")
			}
			// The rooted clean folds the traversal back under the root, so
			// the escape must surface as not-found or access-denied, never
			// as a successful resolution outside the root.
			kind := kindOf(t, err)
			if kind != KindNotFound && kind != KindAccessDenied {
				t.Errorf("kind = %v, want not-found or access-denied", kind)
			}
		})
	}
}

func TestResolvePackage(t *testing.T) {
	root := t.TempDir()
	pkgRoot := t.TempDir()
	writeFile(t, filepath.Join(pkgRoot, "preview", "example", "0.1.0", "lib.typ"), "#let x = 1")

	r, err := NewResolver(root, pkgRoot)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	id := FileID{
		Pkg:  PackageSpec{Namespace: "preview", Name: "example", Version: "0.1.0"},
		Path: "/lib.typ",
	}
	got, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := filepath.Join(pkgRoot, "preview", "example", "0.1.0", "lib.typ")
	if got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestResolvePackageNoRepository(t *testing.T) {
	r, err := NewResolver(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	id := FileID{
		Pkg:  PackageSpec{Namespace: "preview", Name: "example", Version: "0.1.0"},
		Path: "/lib.typ",
	}
	_, err = r.Resolve(id)
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if kind := kindOf(t, err); kind != KindAccessDenied {
		t.Errorf("kind = %v, want %v", kind, KindAccessDenied)
	}
}

func TestResolvePackageBadComponents(t *testing.T) {
	pkgRoot := t.TempDir()
	r, err := NewResolver(t.TempDir(), pkgRoot)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	tests := []struct {
		name string
		pkg  PackageSpec
	}{
		{"dotdot namespace", PackageSpec{Namespace: "..", Name: "x", Version: "0.1.0"}},
		{"separator in name", PackageSpec{Namespace: "preview", Name: "a/b", Version: "0.1.0"}},
		{"backslash in version", PackageSpec{Namespace: "preview", Name: "x", Version: `0.1.0\..`}},
		{"empty name", PackageSpec{Namespace: "preview", Name: "", Version: "0.1.0"}},
		{"dot version", PackageSpec{Namespace: "preview", Name: "x", Version: "."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(FileID{Pkg: tt.pkg, Path: "/lib.typ"})
			if err == nil {
				t.Fatal("expected resolution to fail")
			}
			if kind := kindOf(t, err); kind != KindAccessDenied {
				t.Errorf("kind = %v, want %v", kind, KindAccessDenied)
			}
		})
	}
}

func TestResolveExistingUnderRoot(t *testing.T) {
	root := t.TempDir()
	files := []string{"main.typ", "assets/logo.svg", "deep/nested/dir/f.typ"}
	for _, f := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(f)), "x")
	}

	r, err := NewResolver(root, "")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	for _, f := range files {
		if _, err := r.Resolve(FileID{Path: "/" + f}); err != nil {
			t.Errorf("Resolve(%q) failed: %v", f, err)
		}
	}
}
