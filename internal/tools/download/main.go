// Command download fetches the Typst WASM guest the engine package embeds.
//
// Usage:
//
//	go run ./internal/tools/download [version] [output]
//
// The version defaults to the pinned engine release and the output to
// engine/typst.wasm. Existing files are left alone.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

// Mirrors engine.EngineVersion; the engine package cannot be imported
// here before the binary it embeds exists.
const defaultVersion = "0.14.2"

const urlTemplate = "https://github.com/goodguyjay/typst-wasm/releases/download/v%s/typst.wasm"

func main() {
	version := defaultVersion
	output := "engine/typst.wasm"
	if len(os.Args) > 1 {
		version = os.Args[1]
	}
	if len(os.Args) > 2 {
		output = os.Args[2]
	}

	if _, err := os.Stat(output); err == nil {
		return
	}

	url := fmt.Sprintf(urlTemplate, version)
	fmt.Fprintf(os.Stderr, "fetching %s\n", url)

	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "download failed: %s\n", resp.Status)
		os.Exit(1)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(data) < 4 || string(data[:4]) != "\x00asm" {
		fmt.Fprintln(os.Stderr, "downloaded file is not a WebAssembly module")
		os.Exit(1)
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", output, len(data))
}
