package compiler

import "github.com/goodguyjay/typstgo/engine"

// Version is this library's version.
const Version = "0.1.0"

// EngineVersion returns the embedded Typst engine's version: the version
// the running guest reports, or the compiled-in release when the shared
// engine has not started yet.
func EngineVersion() string {
	if engine.Initialized() {
		if e, err := engine.Default(); err == nil {
			return e.Version()
		}
	}
	return engine.EngineVersion
}
