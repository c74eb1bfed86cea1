package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero/api"

	"github.com/goodguyjay/typstgo/world"
)

const hostModuleName = "typst_host"

// Log levels of the log_message import. They extend the diagnostic
// severity convention: 0 error, 1 warning, 2 info, 3 debug.
const (
	logLevelError uint32 = iota
	logLevelWarn
	logLevelInfo
	logLevelDebug
)

var (
	i32_1 = []api.ValueType{api.ValueTypeI32}
	i32_3 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
	i32_4 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
)

// instantiateHostModule exports the typst_host imports the guest links
// against. It must run before the guest module is instantiated.
func (e *Engine) instantiateHostModule(ctx context.Context) error {
	builder := e.runtime.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostReadSource), i32_4, i32_1).
		Export("read_source")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostReadFile), i32_4, i32_1).
		Export("read_file")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostFontData), i32_3, i32_1).
		Export("font_data")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostToday), i32_4, i32_1).
		Export("today")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostLogMessage), i32_3, nil).
		Export("log_message")

	_, err := builder.Instantiate(ctx)
	return err
}

func (e *Engine) hostReadSource(ctx context.Context, mod api.Module, stack []uint64) {
	e.hostProvide(ctx, mod, stack, func(w *world.World, id world.FileID) ([]byte, error) {
		src, err := w.Source(id)
		if err != nil {
			return nil, err
		}
		return []byte(src.Text), nil
	})
}

func (e *Engine) hostReadFile(ctx context.Context, mod api.Module, stack []uint64) {
	e.hostProvide(ctx, mod, stack, (*world.World).File)
}

// hostProvide routes a file callback: look up the world, parse the wire
// identity, fetch, and hand the payload to the guest in a fresh allocation.
func (e *Engine) hostProvide(ctx context.Context, mod api.Module, stack []uint64, fetch func(*world.World, world.FileID) ([]byte, error)) {
	worldID := uint32(stack[0])
	idPtr := uint32(stack[1])
	idLen := uint32(stack[2])
	out := uint32(stack[3])
	mem := mod.Memory()

	w, ok := e.worlds.get(worldID)
	if !ok {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusOther, fmt.Sprintf("unknown world %d", worldID)))
		return
	}

	raw, ok := mem.Read(idPtr, idLen)
	if !ok {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusOther, "file id out of bounds"))
		return
	}
	id, err := world.ParseID(string(raw))
	if err != nil {
		// Identities on the wire were encoded by the engine itself, so a
		// parse failure is a protocol violation, not a missing file.
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusOther, err.Error()))
		return
	}

	data, err := fetch(w, id)
	if err != nil {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusFor(err), err.Error()))
		return
	}

	buf, err := writeBytes(ctx, mem, e.allocator(), data)
	if err != nil {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusIO, err.Error()))
		return
	}
	if err := writeBuffer(mem, out, buf); err != nil {
		freeBuffer(ctx, e.allocator(), buf)
		stack[0] = uint64(statusOther)
		return
	}
	stack[0] = uint64(statusOK)
}

func (e *Engine) hostFontData(ctx context.Context, mod api.Module, stack []uint64) {
	worldID := uint32(stack[0])
	index := uint32(stack[1])
	out := uint32(stack[2])
	mem := mod.Memory()

	w, ok := e.worlds.get(worldID)
	if !ok {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusOther, fmt.Sprintf("unknown world %d", worldID)))
		return
	}
	fonts := w.Fonts()
	if int64(index) >= int64(fonts.Count()) {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusOther, fmt.Sprintf("font index %d out of range", index)))
		return
	}
	data, err := fonts.Data(int(index))
	if err != nil {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusIO, err.Error()))
		return
	}

	buf, err := writeBytes(ctx, mem, e.allocator(), data)
	if err != nil {
		stack[0] = uint64(e.writeFailure(ctx, mem, out, statusIO, err.Error()))
		return
	}
	if err := writeBuffer(mem, out, buf); err != nil {
		freeBuffer(ctx, e.allocator(), buf)
		stack[0] = uint64(statusOther)
		return
	}
	stack[0] = uint64(statusOK)
}

// hostToday fills an 8-byte datetime record {year u16, month u8, day u8,
// hour u8, minute u8, second u8, pad}. Returns 1 when a date was written.
func (e *Engine) hostToday(ctx context.Context, mod api.Module, stack []uint64) {
	worldID := uint32(stack[0])
	hasOffset := uint32(stack[1]) != 0
	offsetHours := int32(uint32(stack[2]))
	out := uint32(stack[3])

	w, ok := e.worlds.get(worldID)
	if !ok {
		stack[0] = 0
		return
	}
	dt, ok := w.Today(int(offsetHours), hasOffset)
	if !ok {
		stack[0] = 0
		return
	}
	year, err := safecast.Conv[uint16](dt.Year)
	if err != nil {
		stack[0] = 0
		return
	}

	rec := make([]byte, 8)
	binary.LittleEndian.PutUint16(rec[0:2], year)
	rec[2] = byte(dt.Month)
	rec[3] = byte(dt.Day)
	rec[4] = byte(dt.Hour)
	rec[5] = byte(dt.Minute)
	rec[6] = byte(dt.Second)
	if !mod.Memory().Write(out, rec) {
		stack[0] = 0
		return
	}
	stack[0] = 1
}

func (e *Engine) hostLogMessage(ctx context.Context, mod api.Module, stack []uint64) {
	level := uint32(stack[0])
	ptr := uint32(stack[1])
	length := uint32(stack[2])

	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return
	}
	msg := string(raw)
	switch level {
	case logLevelError:
		e.logger.ErrorContext(ctx, msg, "origin", "engine")
	case logLevelWarn:
		e.logger.WarnContext(ctx, msg, "origin", "engine")
	case logLevelInfo:
		e.logger.InfoContext(ctx, msg, "origin", "engine")
	default:
		e.logger.DebugContext(ctx, msg, "origin", "engine")
	}
}

// writeFailure puts the error message in the caller's out slot and returns
// the status unchanged. A failed message allocation degrades to an empty
// slot; the status still tells the guest what happened.
func (e *Engine) writeFailure(ctx context.Context, mem api.Memory, out uint32, status uint32, msg string) uint32 {
	buf, err := writeBytes(ctx, mem, e.allocator(), []byte(msg))
	if err != nil {
		buf = buffer{}
	}
	if err := writeBuffer(mem, out, buf); err != nil {
		freeBuffer(ctx, e.allocator(), buf)
	}
	return status
}

// statusFor maps host file errors onto the wire taxonomy.
func statusFor(err error) uint32 {
	var fe *world.FileError
	if !errors.As(err, &fe) {
		return statusOther
	}
	switch fe.Kind {
	case world.KindNotFound:
		return statusNotFound
	case world.KindAccessDenied:
		return statusAccessDenied
	case world.KindIsDirectory:
		return statusIsDirectory
	case world.KindNotUTF8:
		return statusNotUTF8
	case world.KindIO:
		return statusIO
	default:
		return statusOther
	}
}
