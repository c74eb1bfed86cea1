// Package bench provides honest benchmarks comparing typstgo against the
// native Typst CLI.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/goodguyjay/typstgo/compiler"
	"github.com/goodguyjay/typstgo/engine"
)

// =============================================================================
// HONEST BENCHMARK SUITE
// =============================================================================
// This benchmark suite is designed to provide accurate, fair comparisons.
// We explicitly acknowledge where typstgo is slower than the native CLI.
// The value proposition of typstgo is EMBEDDING and SANDBOXING, not raw
// speed: no Typst binary on the host, and reads confined to the workspace.
// =============================================================================

const benchDoc = `= Quarterly Report

#lorem(120)

== Figures

#table(
  columns: 3,
  [Region], [Revenue], [Growth],
  [North], [1.2M], [4.5%],
  [South], [0.9M], [3.1%],
)

#pagebreak()

= Appendix

#lorem(80)
`

func requireCompiled(tb testing.TB, res compiler.Result) {
	tb.Helper()
	if res.Error != nil {
		tb.Skipf("engine unavailable: %v", res.Error)
	}
	if !res.Success {
		tb.Skipf("document failed to compile: %v", res.Diagnostics)
	}
}

// --- typstgo benchmarks: Cold Start (new engine each time) ---

func BenchmarkTypstgo_ColdStart(b *testing.B) {
	for i := 0; i < b.N; i++ {
		eng, err := engine.New()
		if err != nil {
			b.Fatal(err)
		}
		comp, err := compiler.New(b.TempDir(),
			compiler.WithEngine(eng),
			compiler.WithSource(benchDoc))
		if err != nil {
			b.Fatal(err)
		}
		res := comp.Compile(context.Background())
		requireCompiled(b, res)
		res.Document.Close()
		comp.Close()
		eng.Close()
	}
}

// --- typstgo benchmarks: Warm Compiles (reuse engine and session) ---

func newBenchSession(b *testing.B) *compiler.Compiler {
	b.Helper()
	eng, err := engine.New()
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { eng.Close() })

	comp, err := compiler.New(b.TempDir(),
		compiler.WithEngine(eng),
		compiler.WithSource(benchDoc))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { comp.Close() })

	// First compile pays the warmup cost.
	res := comp.Compile(context.Background())
	requireCompiled(b, res)
	res.Document.Close()
	return comp
}

func BenchmarkTypstgo_WarmRecompile(b *testing.B) {
	comp := newBenchSession(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := comp.Compile(context.Background())
		if res.Document != nil {
			res.Document.Close()
		}
	}
}

func BenchmarkTypstgo_IncrementalEdit(b *testing.B) {
	comp := newBenchSession(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		comp.UpdateSource(fmt.Sprintf("%s\nEdit %d.\n", benchDoc, i))
		res := comp.Compile(context.Background())
		if res.Document != nil {
			res.Document.Close()
		}
	}
}

func BenchmarkTypstgo_RenderSVG(b *testing.B) {
	comp := newBenchSession(b)
	res := comp.Compile(context.Background())
	requireCompiled(b, res)
	defer res.Document.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := res.Document.RenderSVG(context.Background(), 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTypstgo_RenderPDF(b *testing.B) {
	comp := newBenchSession(b)
	res := comp.Compile(context.Background())
	requireCompiled(b, res)
	defer res.Document.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := res.Document.RenderPDF(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Native Typst CLI benchmarks (if installed) ---

func BenchmarkNative_Typst(b *testing.B) {
	if _, err := exec.LookPath("typst"); err != nil {
		b.Skip("typst not available")
	}

	dir := b.TempDir()
	src := filepath.Join(dir, "doc.typ")
	if err := os.WriteFile(src, []byte(benchDoc), 0o644); err != nil {
		b.Fatal(err)
	}
	out := filepath.Join(dir, "doc.pdf")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exec.Command("typst", "compile", src, out).Run()
	}
}

// =============================================================================
// COMPARISON TEST - Human readable output
// =============================================================================

func TestHonestComparison(t *testing.T) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║            TYPSTGO BENCHMARK - HONEST COMPARISON                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println()

	type result struct {
		name      string
		cold      time.Duration
		warm      time.Duration
		sandboxed bool
	}
	var results []result

	measure := func(runs int, fn func()) time.Duration {
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			fn()
			total += time.Since(start)
		}
		return total / time.Duration(runs)
	}

	runs := 3

	// --- typstgo ---
	coldStart := time.Now()
	eng, err := engine.New()
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	comp, err := compiler.New(t.TempDir(),
		compiler.WithEngine(eng),
		compiler.WithSource(benchDoc))
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()

	res := comp.Compile(context.Background())
	requireCompiled(t, res)
	res.Document.Close()
	typstgoCold := time.Since(coldStart)

	typstgoWarm := measure(runs, func() {
		res := comp.Compile(context.Background())
		if res.Document != nil {
			res.Document.Close()
		}
	})

	results = append(results, result{
		name:      "typstgo (WASM engine)",
		cold:      typstgoCold,
		warm:      typstgoWarm,
		sandboxed: true,
	})

	// --- Native Typst CLI (if available) ---
	if _, err := exec.LookPath("typst"); err == nil {
		dir := t.TempDir()
		src := filepath.Join(dir, "doc.typ")
		os.WriteFile(src, []byte(benchDoc), 0o644)
		out := filepath.Join(dir, "doc.pdf")

		nativeCold := measure(1, func() {
			exec.Command("typst", "compile", src, out).Run()
		})
		nativeWarm := measure(runs, func() {
			exec.Command("typst", "compile", src, out).Run()
		})
		results = append(results, result{
			name:      "native typst CLI",
			cold:      nativeCold,
			warm:      nativeWarm,
			sandboxed: false,
		})
	}

	// --- Print results ---
	fmt.Println("┌────────────────────────┬───────────┬───────────┬───────────┐")
	fmt.Println("│ Runtime                │ Cold      │ Warm      │ Sandboxed │")
	fmt.Println("├────────────────────────┼───────────┼───────────┼───────────┤")
	for _, r := range results {
		sandboxed := "✗"
		if r.sandboxed {
			sandboxed = "✓"
		}
		fmt.Printf("│ %-22s │ %9s │ %9s │     %s     │\n",
			r.name,
			formatDuration(r.cold),
			formatDuration(r.warm),
			sandboxed)
	}
	fmt.Println("└────────────────────────┴───────────┴───────────┴───────────┘")
	fmt.Println()

	// --- Honest verdict ---
	fmt.Println("┌──────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ VERDICT                                                          │")
	fmt.Println("├──────────────────────────────────────────────────────────────────┤")
	fmt.Println("│ • typstgo cold start is SLOWER than the native CLI               │")
	fmt.Println("│   (the WASM engine compiles on first use; disk cache helps)      │")
	fmt.Println("│ • typstgo warm recompiles are close to native thanks to the      │")
	fmt.Println("│   engine's incremental state                                     │")
	fmt.Println("│ • typstgo needs NO Typst binary on the host                      │")
	fmt.Println("│ • document reads cannot leave the workspace root                 │")
	fmt.Println("│                                                                  │")
	fmt.Println("│ USE TYPSTGO WHEN: You embed typesetting in a Go service          │")
	fmt.Println("│ DON'T USE WHEN: One-shot CLI speed matters more than embedding   │")
	fmt.Println("└──────────────────────────────────────────────────────────────────┘")
	fmt.Println()

	// Log for test output
	t.Log("Benchmark complete - see stdout for results")
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// =============================================================================
// MEMORY BENCHMARK
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	eng, err := engine.New()
	if err != nil {
		t.Fatal(err)
	}
	comp, err := compiler.New(t.TempDir(),
		compiler.WithEngine(eng),
		compiler.WithSource(benchDoc))
	if err != nil {
		t.Fatal(err)
	}

	// Run several times
	for i := 0; i < 5; i++ {
		res := comp.Compile(context.Background())
		if i == 0 {
			requireCompiled(t, res)
		}
		if res.Document != nil {
			res.Document.Close()
		}
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	comp.Close()
	eng.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d MB", before/1024/1024)
	t.Logf("Memory after 5 compiles: %d MB", after/1024/1024)
	t.Logf("Memory after GC: %d MB", afterGC/1024/1024)
}

// =============================================================================
// DISK CACHE BENCHMARK (simulates CLI usage)
// =============================================================================

func TestDiskCacheBenefit(t *testing.T) {
	cacheDir, _ := os.MkdirTemp("", "typstgo-bench-cache")
	defer os.RemoveAll(cacheDir)

	root := t.TempDir()
	var times []time.Duration

	// Simulate 5 separate CLI invocations (each creates a new engine)
	for i := 0; i < 5; i++ {
		start := time.Now()

		eng, err := engine.New(engine.WithDiskCache(cacheDir))
		if err != nil {
			t.Fatal(err)
		}
		comp, err := compiler.New(root,
			compiler.WithEngine(eng),
			compiler.WithSource(benchDoc))
		if err != nil {
			t.Fatal(err)
		}
		res := comp.Compile(context.Background())
		if i == 0 {
			requireCompiled(t, res)
		}
		if res.Document != nil {
			res.Document.Close()
		}
		comp.Close()
		eng.Close()

		times = append(times, time.Since(start))
	}

	fmt.Println()
	fmt.Println("=== Disk Cache Benefit (simulated CLI calls) ===")
	for i, d := range times {
		label := "cached"
		if i == 0 {
			label = "compile"
		}
		fmt.Printf("Call %d (%s): %v\n", i+1, label, d)
	}
	fmt.Printf("Speedup: %.1fx faster after first call\n", float64(times[0])/float64(times[1]))
	fmt.Println()

	t.Log("Disk cache test complete")
}
