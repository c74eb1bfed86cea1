package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/goodguyjay/typstgo/world"
)

// EngineVersion is the Typst release compiled into the embedded guest.
const EngineVersion = "0.14.2"

// The guest binary is built separately and fetched with
// internal/tools/download; it is not checked in.
//
//go:embed typst.wasm
var guestModule []byte

var ErrEngineClosed = errors.New("engine closed")

// Engine owns one wazero runtime with one instantiated guest module. All
// guest calls are serialized by an internal mutex; the engine is safe for
// concurrent use. Cancelling a call's context does not interrupt the
// guest: a compile always runs to completion so the shared instance stays
// usable.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	module  api.Module
	logger  *slog.Logger
	worlds  *worldRegistry
	version string

	mu     sync.Mutex
	closed bool

	fnAlloc        api.Function
	fnFree         api.Function
	fnVersion      api.Function
	fnWorldNew     api.Function
	fnWorldFree    api.Function
	fnCompile      api.Function
	fnPageCount    api.Function
	fnRenderSVG    api.Function
	fnRenderSVGAll api.Function
	fnRenderPDF    api.Function
	fnDocFree      api.Function
	fnCacheEvict   api.Function
}

// WorldHandle pairs the host registry id with the guest's own handle for
// one world. The zero value is invalid.
type WorldHandle struct {
	id    uint32
	guest uint32
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
	defaultErr    error
	defaultReady  atomic.Bool
)

// Default returns the process-wide shared Engine, creating it on first
// use. Sharing one engine keeps its internal memoization cache warm across
// compilers. The shared engine is never closed.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		defaultEngine, defaultErr = New()
		if defaultErr == nil {
			defaultReady.Store(true)
		}
	})
	return defaultEngine, defaultErr
}

// Initialized reports whether the shared Default engine exists. It never
// triggers creation.
func Initialized() bool {
	return defaultReady.Load()
}

// New creates an Engine: it compiles the guest module, wires up WASI and
// the typst_host imports, instantiates the guest, and reads the engine
// version. The guest is a reactor, so instantiation runs its _initialize
// export rather than a main function.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig()
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, rtConfig),
		cache:   cache,
		logger:  cfg.logger,
		worlds:  newWorldRegistry(),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		e.closeResources(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	if err := e.instantiateHostModule(ctx); err != nil {
		e.closeResources(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	wasm := cfg.module
	if wasm == nil {
		wasm = guestModule
	}
	modConfig := wazero.NewModuleConfig().
		WithName("typst").
		WithStartFunctions("_initialize")
	mod, err := e.runtime.InstantiateWithConfig(ctx, wasm, modConfig)
	if err != nil {
		e.closeResources(ctx)
		return nil, fmt.Errorf("instantiate guest module: %w", err)
	}
	e.module = mod

	if err := e.resolveExports(); err != nil {
		e.closeResources(ctx)
		return nil, err
	}

	version, err := e.readVersion(ctx)
	if err != nil {
		e.closeResources(ctx)
		return nil, err
	}
	e.version = version
	e.logger.Debug("typst engine ready", "version", version)

	return e, nil
}

func (e *Engine) resolveExports() error {
	exports := []struct {
		name string
		dst  *api.Function
	}{
		{"tg_alloc", &e.fnAlloc},
		{"tg_free", &e.fnFree},
		{"tg_version", &e.fnVersion},
		{"tg_world_new", &e.fnWorldNew},
		{"tg_world_free", &e.fnWorldFree},
		{"tg_compile", &e.fnCompile},
		{"tg_page_count", &e.fnPageCount},
		{"tg_render_svg", &e.fnRenderSVG},
		{"tg_render_svg_all", &e.fnRenderSVGAll},
		{"tg_render_pdf", &e.fnRenderPDF},
		{"tg_doc_free", &e.fnDocFree},
		{"tg_cache_evict", &e.fnCacheEvict},
	}
	for _, ex := range exports {
		fn := e.module.ExportedFunction(ex.name)
		if fn == nil {
			return fmt.Errorf("guest module missing %q export", ex.name)
		}
		*ex.dst = fn
	}
	return nil
}

// readVersion fetches the guest's version string. The guest returns a
// pointer to a static buffer that is never freed.
func (e *Engine) readVersion(ctx context.Context) (string, error) {
	res, err := e.fnVersion.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("tg_version: %w", err)
	}
	ptr, length := unpackPtrLen(res[0])
	view, ok := e.module.Memory().Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("version string %#x+%d out of bounds", ptr, length)
	}
	return string(view), nil
}

// Version returns the engine version reported by the guest at startup.
func (e *Engine) Version() string {
	return e.version
}

type guestAlloc struct {
	e *Engine
}

func (g guestAlloc) alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := g.e.fnAlloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("tg_alloc(%d): %w", size, err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("tg_alloc(%d): guest out of memory", size)
	}
	return ptr, nil
}

func (g guestAlloc) free(ctx context.Context, ptr, size uint32) error {
	if _, err := g.e.fnFree.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		return fmt.Errorf("tg_free(%#x, %d): %w", ptr, size, err)
	}
	return nil
}

func (e *Engine) allocator() allocator {
	return guestAlloc{e}
}

// NewWorld registers w with the engine and creates its guest-side
// counterpart. The world must stay valid until FreeWorld.
func (e *Engine) NewWorld(ctx context.Context, w *world.World) (WorldHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return WorldHandle{}, ErrEngineClosed
	}

	fontCount, err := safecast.Conv[uint32](w.Fonts().Count())
	if err != nil {
		return WorldHandle{}, fmt.Errorf("font count: %w", err)
	}

	id := e.worlds.add(w)

	// The inputs buffer's ownership passes to the guest with the call.
	inputs, err := writeBytes(ctx, e.module.Memory(), e.allocator(), w.Inputs())
	if err != nil {
		e.worlds.remove(id)
		return WorldHandle{}, err
	}

	res, err := e.fnWorldNew.Call(ctx, uint64(id), uint64(inputs.ptr), uint64(inputs.len), uint64(fontCount))
	if err != nil {
		e.worlds.remove(id)
		return WorldHandle{}, fmt.Errorf("tg_world_new: %w", err)
	}
	guest := uint32(res[0])
	if guest == 0 {
		e.worlds.remove(id)
		return WorldHandle{}, fmt.Errorf("tg_world_new: guest rejected world")
	}
	return WorldHandle{id: id, guest: guest}, nil
}

// FreeWorld releases the guest-side world and unregisters it. Documents
// produced from the world stay valid; they hold their own guest state.
func (e *Engine) FreeWorld(ctx context.Context, h WorldHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	defer e.worlds.remove(h.id)
	if _, err := e.fnWorldFree.Call(ctx, uint64(h.guest)); err != nil {
		return fmt.Errorf("tg_world_free: %w", err)
	}
	return nil
}

// Compile typesets the world's main source. The returned result carries
// decoded diagnostics and, on success, a document handle the caller owns.
func (e *Engine) Compile(ctx context.Context, h WorldHandle) (RawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return RawResult{}, ErrEngineClosed
	}
	res, err := e.fnCompile.Call(ctx, uint64(h.guest))
	if err != nil {
		return RawResult{}, fmt.Errorf("tg_compile: %w", err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return RawResult{}, fmt.Errorf("tg_compile: null result record")
	}
	return decodeResult(ctx, e.module.Memory(), e.allocator(), ptr)
}

// PageCount returns the number of pages in a compiled document.
func (e *Engine) PageCount(ctx context.Context, doc uint32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrEngineClosed
	}
	res, err := e.fnPageCount.Call(ctx, uint64(doc))
	if err != nil {
		return 0, fmt.Errorf("tg_page_count: %w", err)
	}
	return int(uint32(res[0])), nil
}

// RenderSVG renders one page (zero-based) of a document as SVG.
func (e *Engine) RenderSVG(ctx context.Context, doc, page uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return e.renderCall(ctx, "tg_render_svg", e.fnRenderSVG, uint64(doc), uint64(page))
}

// RenderSVGAll renders every page of a document, one SVG per page.
func (e *Engine) RenderSVGAll(ctx context.Context, doc uint32) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	mem := e.module.Memory()
	alloc := e.allocator()

	slot, err := alloc.alloc(ctx, bufferSize)
	if err != nil {
		return nil, err
	}
	defer alloc.free(ctx, slot, bufferSize)

	if err := writeBuffer(mem, slot, buffer{}); err != nil {
		return nil, err
	}

	res, err := e.fnRenderSVGAll.Call(ctx, uint64(doc), uint64(slot))
	if err != nil {
		return nil, fmt.Errorf("tg_render_svg_all: %w", err)
	}
	if status := uint32(res[0]); status != statusOK {
		msgBuf, err := readBuffer(mem, slot)
		if err != nil {
			return nil, err
		}
		msg, err := readBytes(mem, msgBuf)
		if err != nil {
			return nil, err
		}
		if err := freeBuffer(ctx, alloc, msgBuf); err != nil {
			return nil, err
		}
		return nil, &RenderError{Status: status, Message: string(msg)}
	}

	// On success the slot holds a BufferArray header: one Buffer per page.
	arrPtr, ok := mem.ReadUint32Le(slot)
	if !ok {
		return nil, fmt.Errorf("buffer array header at %#x out of bounds", slot)
	}
	count, ok := mem.ReadUint32Le(slot + 4)
	if !ok {
		return nil, fmt.Errorf("buffer array header at %#x out of bounds", slot)
	}
	if arrPtr == 0 || count == 0 {
		return nil, nil
	}

	bufs, err := readBufferArray(mem, arrPtr, count)
	if err != nil {
		return nil, err
	}
	pages := make([][]byte, 0, count)
	for _, b := range bufs {
		data, err := readBytes(mem, b)
		if err != nil {
			return nil, err
		}
		pages = append(pages, data)
		if err := freeBuffer(ctx, alloc, b); err != nil {
			return nil, err
		}
	}
	if err := alloc.free(ctx, arrPtr, count*bufferSize); err != nil {
		return nil, err
	}
	return pages, nil
}

// RenderPDF renders a document as PDF.
func (e *Engine) RenderPDF(ctx context.Context, doc uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return e.renderCall(ctx, "tg_render_pdf", e.fnRenderPDF, uint64(doc))
}

// renderCall drives the shared render protocol: allocate an out slot, let
// the guest fill it, copy the payload out, release both allocations.
// Callers hold e.mu.
func (e *Engine) renderCall(ctx context.Context, name string, fn api.Function, args ...uint64) ([]byte, error) {
	mem := e.module.Memory()
	alloc := e.allocator()

	slot, err := alloc.alloc(ctx, bufferSize)
	if err != nil {
		return nil, err
	}
	defer alloc.free(ctx, slot, bufferSize)

	if err := writeBuffer(mem, slot, buffer{}); err != nil {
		return nil, err
	}

	res, err := fn.Call(ctx, append(args, uint64(slot))...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	status := uint32(res[0])

	buf, err := readBuffer(mem, slot)
	if err != nil {
		return nil, err
	}
	data, err := readBytes(mem, buf)
	if err != nil {
		return nil, err
	}
	if err := freeBuffer(ctx, alloc, buf); err != nil {
		return nil, err
	}

	if status != statusOK {
		return nil, &RenderError{Status: status, Message: string(data)}
	}
	return data, nil
}

// FreeDocument releases a compiled document's guest state.
func (e *Engine) FreeDocument(ctx context.Context, doc uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, err := e.fnDocFree.Call(ctx, uint64(doc)); err != nil {
		return fmt.Errorf("tg_doc_free: %w", err)
	}
	return nil
}

// CacheEvict drops memoized engine state older than maxAge. Zero evicts
// everything.
func (e *Engine) CacheEvict(ctx context.Context, maxAge time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	secs := uint64(maxAge / time.Second)
	if _, err := e.fnCacheEvict.Call(ctx, secs); err != nil {
		return fmt.Errorf("tg_cache_evict: %w", err)
	}
	return nil
}

// Close releases the runtime and the compilation cache. Guest calls after
// Close return ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.closeResources(context.Background())
}

func (e *Engine) closeResources(ctx context.Context) error {
	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// RenderError is a failure reported by the guest's render exports.
type RenderError struct {
	Status  uint32
	Message string
}

func (e *RenderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("render failed with status %d", e.Status)
}
