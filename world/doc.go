// Package world implements the capability set the typesetting engine
// queries while compiling: source text, raw file bytes, fonts, and the
// current date. File identities are resolved through a path sandbox with
// two containment domains, the workspace root and an optional package
// repository root.
//
// A World is single-threaded by contract. The engine serializes all guest
// calls, so capability methods are never invoked concurrently; the World
// itself performs no locking.
package world
