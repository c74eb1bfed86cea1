// Package typstgo embeds the Typst typesetting engine as a WebAssembly
// module and compiles documents from Go, no native toolchain required.
//
// # Overview
//
// Every compilation runs against a sandboxed workspace. The engine's file
// reads are confined to the workspace root and, for package imports, an
// optional package repository; nothing else on the host is visible to it.
//
// # Basic Usage
//
//	result := typstgo.RenderPDF("= Hello, world!", typstgo.DefaultConfig())
//	for _, d := range result.Diagnostics {
//		fmt.Println(d)
//	}
//	if result.Error != nil {
//		log.Fatal(result.Error)
//	}
//	os.WriteFile("hello.pdf", result.PDF, 0o644)
//
// # Sessions
//
// Recompiling an evolving document through one session reuses the
// engine's incremental state:
//
//	comp, _ := compiler.New("./docs", compiler.WithSource("= Draft"))
//	defer comp.Close()
//
//	res := comp.Compile(ctx)
//	if res.Success {
//		svg, _ := res.Document.RenderSVG(ctx, 0)
//		_ = svg
//	}
//
//	comp.UpdateSource("= Draft, revised")
//	res = comp.Compile(ctx)
//
// # Inputs and Packages
//
//	result := typstgo.RenderSVG(source, typstgo.Config{
//	    Inputs:      map[string]string{"title": "Q3 Report"},
//	    PackagePath: "/srv/typst/packages",
//	    SystemFonts: true,
//	})
//
// See the [compiler], [engine], and [world] packages for detailed API
// documentation.
package typstgo
