package world

import "fmt"

// FileErrorKind classifies a resolution failure. The engine receives these
// as typed file errors and folds them into ordinary compile diagnostics.
type FileErrorKind int

const (
	// KindNotFound means the identity resolved to a path that does not exist.
	KindNotFound FileErrorKind = iota
	// KindAccessDenied means the identity escaped its containment domain or
	// required a package repository that is not configured.
	KindAccessDenied
	// KindIsDirectory means the identity resolved to a directory.
	KindIsDirectory
	// KindNotUTF8 means a source file's bytes are not valid UTF-8.
	KindNotUTF8
	// KindIO covers any other read failure.
	KindIO
	// KindOther covers malformed identities and internal failures.
	KindOther
)

func (k FileErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAccessDenied:
		return "access denied"
	case KindIsDirectory:
		return "is a directory"
	case KindNotUTF8:
		return "invalid utf-8"
	case KindIO:
		return "i/o error"
	default:
		return "error"
	}
}

// FileError is a typed resolution failure for one file identity.
type FileError struct {
	Kind FileErrorKind
	ID   FileID
	Err  error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Kind)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func fileErr(kind FileErrorKind, id FileID, err error) *FileError {
	return &FileError{Kind: kind, ID: id, Err: err}
}
