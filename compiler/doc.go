// Package compiler provides typesetting sessions over the embedded Typst
// engine: compile in-memory sources against a sandboxed workspace and
// render the result as SVG or PDF.
//
// # Overview
//
// A Compiler is one session: it owns a workspace root, an optional package
// repository, a font inventory, and the current main source. Compiling
// never touches a main file on disk; the source is always set through
// [WithSource] or [Compiler.UpdateSource]. Imports and assets referenced by
// the source are read from the workspace, confined to the configured
// roots.
//
// # Basic Usage
//
//	c, err := compiler.New("./docs", compiler.WithSource("= Hello, world!"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	res := c.Compile(ctx)
//	if res.Error != nil {
//	    log.Fatal(res.Error)
//	}
//	for _, d := range res.Diagnostics {
//	    fmt.Println(d)
//	}
//	if res.Success {
//	    defer res.Document.Close()
//	    pdf, _ := res.Document.RenderPDF(ctx)
//	    os.WriteFile("out.pdf", pdf, 0o644)
//	}
//
// # Sessions and Documents
//
// A successful compile returns a [Document] that stays valid after the
// Compiler that produced it is closed. Recompile after [Compiler.UpdateSource]
// to get a fresh Document:
//
//	c.UpdateSource("= Draft 2")
//	res = c.Compile(ctx)
//
// Compilers and Documents are not safe for concurrent use; the engine
// underneath serializes all sessions in the process, so any number of them
// may exist side by side.
//
// # Engine Cache
//
// All sessions share one engine instance whose incremental compilation
// cache speeds up repeated compiles. Long-running processes should bound
// its growth:
//
//	compiler.EvictCache(ctx, 30*time.Minute)
package compiler
