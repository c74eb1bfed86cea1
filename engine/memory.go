package engine

import (
	"context"
	"fmt"

	"fortio.org/safecast"
)

// Record sizes and field offsets of the guest ABI (doc.go).
const (
	bufferSize = 8
	resultSize = 16
	diagSize   = 36
)

// Status codes shared by host imports and guest render exports.
const (
	statusOK uint32 = iota
	statusNotFound
	statusAccessDenied
	statusIsDirectory
	statusNotUTF8
	statusIO
	statusOther
)

// Raw severities as the guest records them.
const (
	RawSeverityError   uint32 = 0
	RawSeverityWarning uint32 = 1
)

// memory is the slice of api.Memory the bridge needs; wazero's api.Memory
// satisfies it.
type memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset uint32, v uint32) bool
}

// allocator is the guest's exported allocator pair.
type allocator interface {
	alloc(ctx context.Context, size uint32) (uint32, error)
	free(ctx context.Context, ptr, size uint32) error
}

// buffer is a view over one guest allocation.
type buffer struct {
	ptr uint32
	len uint32
}

func (b buffer) empty() bool {
	return b.ptr == 0 || b.len == 0
}

// RawDiagnostic is one engine diagnostic as decoded from guest memory,
// before host-side translation. File is the wire-form identity, empty when
// the diagnostic has no span.
type RawDiagnostic struct {
	Severity  uint32
	Message   string
	Hints     []string
	File      string
	SpanStart uint32
	SpanEnd   uint32
}

// RawResult is a decoded compile result. Document is a guest handle the
// caller now owns; it is 0 when the compile failed.
type RawResult struct {
	Success     bool
	Document    uint32
	Diagnostics []RawDiagnostic
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)
	length = uint32(packed & 0xFFFFFFFF)
	return
}

func readBuffer(mem memory, addr uint32) (buffer, error) {
	ptr, ok := mem.ReadUint32Le(addr)
	if !ok {
		return buffer{}, fmt.Errorf("buffer record at %#x out of bounds", addr)
	}
	length, ok := mem.ReadUint32Le(addr + 4)
	if !ok {
		return buffer{}, fmt.Errorf("buffer record at %#x out of bounds", addr)
	}
	return buffer{ptr: ptr, len: length}, nil
}

func writeBuffer(mem memory, addr uint32, b buffer) error {
	if !mem.WriteUint32Le(addr, b.ptr) || !mem.WriteUint32Le(addr+4, b.len) {
		return fmt.Errorf("buffer record at %#x out of bounds", addr)
	}
	return nil
}

// readBytes copies a buffer's contents out of guest memory. Views into
// linear memory are only valid until the guest runs again, so the copy is
// not optional.
func readBytes(mem memory, b buffer) ([]byte, error) {
	if b.empty() {
		return nil, nil
	}
	view, ok := mem.Read(b.ptr, b.len)
	if !ok {
		return nil, fmt.Errorf("buffer %#x+%d out of bounds", b.ptr, b.len)
	}
	out := make([]byte, b.len)
	copy(out, view)
	return out, nil
}

func readString(mem memory, b buffer) (string, error) {
	data, err := readBytes(mem, b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readBufferArray(mem memory, ptr, count uint32) ([]buffer, error) {
	bufs := make([]buffer, 0, count)
	for i := uint32(0); i < count; i++ {
		b, err := readBuffer(mem, ptr+i*bufferSize)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}
	return bufs, nil
}

// writeBytes copies data into a fresh guest allocation. Ownership of the
// allocation passes to whichever guest call the buffer is handed to.
func writeBytes(ctx context.Context, mem memory, alloc allocator, data []byte) (buffer, error) {
	if len(data) == 0 {
		return buffer{}, nil
	}
	size, err := safecast.Conv[uint32](len(data))
	if err != nil {
		return buffer{}, fmt.Errorf("payload too large: %w", err)
	}
	ptr, err := alloc.alloc(ctx, size)
	if err != nil {
		return buffer{}, err
	}
	if !mem.Write(ptr, data) {
		alloc.free(ctx, ptr, size)
		return buffer{}, fmt.Errorf("write %d bytes at %#x out of bounds", size, ptr)
	}
	return buffer{ptr: ptr, len: size}, nil
}

// freeBuffer releases one guest allocation; null or zero-length buffers are
// a no-op.
func freeBuffer(ctx context.Context, alloc allocator, b buffer) error {
	if b.empty() {
		return nil
	}
	return alloc.free(ctx, b.ptr, b.len)
}

// decodeResult copies a CompileResult record and everything it references
// out of guest memory, releasing every referenced allocation exactly once:
// inner buffers, then their containing arrays, then the record itself.
func decodeResult(ctx context.Context, mem memory, alloc allocator, ptr uint32) (RawResult, error) {
	flags, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return RawResult{}, fmt.Errorf("result record at %#x out of bounds", ptr)
	}
	doc, ok := mem.ReadUint32Le(ptr + 4)
	if !ok {
		return RawResult{}, fmt.Errorf("result record at %#x out of bounds", ptr)
	}
	diagPtr, ok := mem.ReadUint32Le(ptr + 8)
	if !ok {
		return RawResult{}, fmt.Errorf("result record at %#x out of bounds", ptr)
	}
	diagCount, ok := mem.ReadUint32Le(ptr + 12)
	if !ok {
		return RawResult{}, fmt.Errorf("result record at %#x out of bounds", ptr)
	}

	res := RawResult{Success: flags&1 != 0, Document: doc}

	if diagPtr != 0 && diagCount > 0 {
		diags := make([]RawDiagnostic, 0, diagCount)
		for i := uint32(0); i < diagCount; i++ {
			d, err := decodeDiagnostic(ctx, mem, alloc, diagPtr+i*diagSize)
			if err != nil {
				return RawResult{}, err
			}
			diags = append(diags, d)
		}
		res.Diagnostics = diags
		if err := alloc.free(ctx, diagPtr, diagCount*diagSize); err != nil {
			return RawResult{}, err
		}
	}

	if err := alloc.free(ctx, ptr, resultSize); err != nil {
		return RawResult{}, err
	}
	return res, nil
}

func decodeDiagnostic(ctx context.Context, mem memory, alloc allocator, addr uint32) (RawDiagnostic, error) {
	severity, ok := mem.ReadUint32Le(addr)
	if !ok {
		return RawDiagnostic{}, fmt.Errorf("diagnostic record at %#x out of bounds", addr)
	}

	msgBuf, err := readBuffer(mem, addr+4)
	if err != nil {
		return RawDiagnostic{}, err
	}
	hintsPtr, ok := mem.ReadUint32Le(addr + 12)
	if !ok {
		return RawDiagnostic{}, fmt.Errorf("diagnostic record at %#x out of bounds", addr)
	}
	hintsCount, ok := mem.ReadUint32Le(addr + 16)
	if !ok {
		return RawDiagnostic{}, fmt.Errorf("diagnostic record at %#x out of bounds", addr)
	}
	fileBuf, err := readBuffer(mem, addr+20)
	if err != nil {
		return RawDiagnostic{}, err
	}
	spanStart, ok := mem.ReadUint32Le(addr + 28)
	if !ok {
		return RawDiagnostic{}, fmt.Errorf("diagnostic record at %#x out of bounds", addr)
	}
	spanEnd, ok := mem.ReadUint32Le(addr + 32)
	if !ok {
		return RawDiagnostic{}, fmt.Errorf("diagnostic record at %#x out of bounds", addr)
	}

	d := RawDiagnostic{Severity: severity, SpanStart: spanStart, SpanEnd: spanEnd}

	if d.Message, err = readString(mem, msgBuf); err != nil {
		return RawDiagnostic{}, err
	}
	if err = freeBuffer(ctx, alloc, msgBuf); err != nil {
		return RawDiagnostic{}, err
	}

	if hintsPtr != 0 && hintsCount > 0 {
		hintBufs, err := readBufferArray(mem, hintsPtr, hintsCount)
		if err != nil {
			return RawDiagnostic{}, err
		}
		d.Hints = make([]string, 0, hintsCount)
		for _, hb := range hintBufs {
			s, err := readString(mem, hb)
			if err != nil {
				return RawDiagnostic{}, err
			}
			d.Hints = append(d.Hints, s)
			if err := freeBuffer(ctx, alloc, hb); err != nil {
				return RawDiagnostic{}, err
			}
		}
		if err := alloc.free(ctx, hintsPtr, hintsCount*bufferSize); err != nil {
			return RawDiagnostic{}, err
		}
	}

	if d.File, err = readString(mem, fileBuf); err != nil {
		return RawDiagnostic{}, err
	}
	if err = freeBuffer(ctx, alloc, fileBuf); err != nil {
		return RawDiagnostic{}, err
	}

	return d, nil
}
