package world

import (
	"fmt"
	"path"
	"strings"
)

// MainPath is the fixed virtual path of the in-memory main document.
const MainPath = "/main.typ"

// PackageSpec identifies a package inside a repository root.
type PackageSpec struct {
	Namespace string
	Name      string
	Version   string
}

func (p PackageSpec) String() string {
	return "@" + p.Namespace + "/" + p.Name + ":" + p.Version
}

// FileID is the logical identity of a source file or asset: an optional
// package specification plus a rooted virtual path. Identities are
// comparable and valid as map keys; two are equal iff both components are.
type FileID struct {
	Pkg  PackageSpec // zero value means a workspace file
	Path string      // rooted, slash-separated, e.g. "/main.typ"
}

// MainID is the identity of the in-memory main document. It is never
// resolved through the filesystem.
var MainID = FileID{Path: MainPath}

// HasPackage reports whether the identity points into a package.
func (id FileID) HasPackage() bool {
	return id.Pkg != (PackageSpec{})
}

// String renders the wire form: "/path" for workspace files and
// "@namespace/name:version/path" for package files.
func (id FileID) String() string {
	if id.HasPackage() {
		return id.Pkg.String() + id.Path
	}
	return id.Path
}

// ParseID parses the wire form produced by String. The virtual path is
// normalized to a rooted slash path; traversal segments that would climb
// above the root are discarded by the rooted clean.
func ParseID(s string) (FileID, error) {
	switch {
	case s == "":
		return FileID{}, fmt.Errorf("empty file identity")
	case s[0] == '/':
		return FileID{Path: cleanVirtual(s)}, nil
	case s[0] != '@':
		return FileID{}, fmt.Errorf("file identity %q: must start with '/' or '@'", s)
	}

	rest := s[1:]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return FileID{}, fmt.Errorf("file identity %q: missing package name", s)
	}
	namespace := rest[:slash]
	rest = rest[slash+1:]

	colon := strings.IndexByte(rest, ':')
	if colon <= 0 {
		return FileID{}, fmt.Errorf("file identity %q: missing package version", s)
	}
	name := rest[:colon]
	rest = rest[colon+1:]

	slash = strings.IndexByte(rest, '/')
	if slash <= 0 {
		return FileID{}, fmt.Errorf("file identity %q: missing file path", s)
	}
	version := rest[:slash]
	vpath := rest[slash:]

	return FileID{
		Pkg:  PackageSpec{Namespace: namespace, Name: name, Version: version},
		Path: cleanVirtual(vpath),
	}, nil
}

// cleanVirtual normalizes a virtual path to a rooted slash path. Leading
// ".." segments cannot climb above the virtual root.
func cleanVirtual(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}
