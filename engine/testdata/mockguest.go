//go:build wasip1

// Mock engine guest speaking the typst_host ABI, for testing the host
// bridge without the real engine binary. Compiles sources made of simple
// directives (READ:, FILE:, WARN:, PAGES:, TODAY, FONT0, LOG:, INPUTS)
// and fails on unbalanced parens.
// Build with: GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o mockguest.wasm mockguest.go
// The compiler package embeds a copy of the same binary from its own
// testdata directory.
package main

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"
)

func main() {}

//go:wasmimport typst_host read_source
func hostReadSource(world, idPtr, idLen, out uint32) uint32

//go:wasmimport typst_host read_file
func hostReadFile(world, idPtr, idLen, out uint32) uint32

//go:wasmimport typst_host font_data
func hostFontData(world, index, out uint32) uint32

//go:wasmimport typst_host today
func hostToday(world, hasOffset uint32, offsetHours int32, out uint32) uint32

//go:wasmimport typst_host log_message
func hostLogMessage(level, ptr, length uint32)

// allocations pins every live buffer so the GC keeps its address stable.
var allocations = map[uint32][]byte{}

//go:wasmexport tg_alloc
func tgAlloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	b := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&b[0])))
	allocations[ptr] = b
	return ptr
}

//go:wasmexport tg_free
func tgFree(ptr, size uint32) {
	delete(allocations, ptr)
}

// mk_live_allocs is a mock-only export so tests can assert the host
// released everything it was handed.
//
//go:wasmexport mk_live_allocs
func mkLiveAllocs() uint32 {
	return uint32(len(allocations))
}

var versionString = []byte("0.14.2-mock")

//go:wasmexport tg_version
func tgVersion() uint64 {
	ptr := uint32(uintptr(unsafe.Pointer(&versionString[0])))
	return uint64(ptr)<<32 | uint64(len(versionString))
}

func view(ptr, length uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func putU32(addr, v uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(addr))) = v
}

func getU32(addr uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

func newBuffer(data []byte) (uint32, uint32) {
	if len(data) == 0 {
		return 0, 0
	}
	ptr := tgAlloc(uint32(len(data)))
	copy(view(ptr, uint32(len(data))), data)
	return ptr, uint32(len(data))
}

type mockWorld struct {
	host      uint32
	inputs    []byte
	fontCount uint32
}

type mockDoc struct {
	pages  int
	label  string
	pdfErr bool
}

var (
	worlds    = map[uint32]*mockWorld{}
	docs      = map[uint32]*mockDoc{}
	nextWorld uint32 = 1
	nextDoc   uint32 = 1
	lastEvict uint64
)

//go:wasmexport tg_world_new
func tgWorldNew(host, inputsPtr, inputsLen, fontCount uint32) uint32 {
	var inputs []byte
	if inputsPtr != 0 && inputsLen > 0 {
		inputs = append([]byte(nil), view(inputsPtr, inputsLen)...)
		tgFree(inputsPtr, inputsLen) // ownership arrived with the call
	}
	h := nextWorld
	nextWorld++
	worlds[h] = &mockWorld{host: host, inputs: inputs, fontCount: fontCount}
	return h
}

//go:wasmexport tg_world_free
func tgWorldFree(h uint32) {
	delete(worlds, h)
}

// callHost drives one file callback: borrowed id in, owned payload out.
func callHost(fn func(world, idPtr, idLen, out uint32) uint32, world uint32, id string) (string, uint32) {
	idPtr, idLen := newBuffer([]byte(id))
	slot := tgAlloc(8)
	putU32(slot, 0)
	putU32(slot+4, 0)
	status := fn(world, idPtr, idLen, slot)
	tgFree(idPtr, idLen)

	payloadPtr, payloadLen := getU32(slot), getU32(slot+4)
	tgFree(slot, 8)

	var text string
	if payloadPtr != 0 && payloadLen > 0 {
		text = string(view(payloadPtr, payloadLen))
		tgFree(payloadPtr, payloadLen)
	}
	return text, status
}

func fontBytes(world, index uint32) (string, uint32) {
	slot := tgAlloc(8)
	putU32(slot, 0)
	putU32(slot+4, 0)
	status := hostFontData(world, index, slot)

	payloadPtr, payloadLen := getU32(slot), getU32(slot+4)
	tgFree(slot, 8)

	var text string
	if payloadPtr != 0 && payloadLen > 0 {
		text = string(view(payloadPtr, payloadLen))
		tgFree(payloadPtr, payloadLen)
	}
	return text, status
}

func todayString(world uint32, hasOffset bool, offset int32) (string, bool) {
	slot := tgAlloc(8)
	var ho uint32
	if hasOffset {
		ho = 1
	}
	got := hostToday(world, ho, offset, slot)
	if got == 0 {
		tgFree(slot, 8)
		return "", false
	}
	b := view(slot, 8)
	year := uint32(b[0]) | uint32(b[1])<<8
	s := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, b[2], b[3], b[4], b[5], b[6])
	tgFree(slot, 8)
	return s, true
}

type diag struct {
	sev        uint32
	msg        string
	hints      []string
	file       string
	start, end uint32
}

//go:wasmexport tg_compile
func tgCompile(h uint32) uint32 {
	w, ok := worlds[h]
	if !ok {
		return 0
	}

	source, status := callHost(hostReadSource, w.host, "/main.typ")
	if status != 0 {
		return writeResult(false, 0, []diag{{sev: 0, msg: source}})
	}

	var diags []diag
	failed := false
	pages := 1
	var label strings.Builder

	if opens, closes := strings.Count(source, "("), strings.Count(source, ")"); opens > closes {
		at := uint32(strings.Index(source, "("))
		failed = true
		diags = append(diags, diag{
			sev:   0,
			msg:   "expected closing paren",
			hints: []string{"add a closing paren"},
			file:  "/main.typ",
			start: at,
			end:   at + 1,
		})
	}
	pages += strings.Count(source, "#pagebreak()")

	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "WARN:"):
			diags = append(diags, diag{sev: 1, msg: strings.TrimPrefix(line, "WARN:")})
		case strings.HasPrefix(line, "READ:"):
			id := strings.TrimPrefix(line, "READ:")
			text, st := callHost(hostReadSource, w.host, id)
			if st != 0 {
				failed = true
				diags = append(diags, diag{sev: 0, msg: text, file: "/main.typ"})
			} else {
				label.WriteString(text)
			}
		case strings.HasPrefix(line, "FILE:"):
			id := strings.TrimPrefix(line, "FILE:")
			data, st := callHost(hostReadFile, w.host, id)
			if st != 0 {
				failed = true
				diags = append(diags, diag{sev: 0, msg: data, file: "/main.typ"})
			} else {
				fmt.Fprintf(&label, "[%d bytes]", len(data))
			}
		case strings.HasPrefix(line, "PAGES:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "PAGES:")); err == nil {
				pages = n
			}
		case line == "TODAY":
			if s, ok := todayString(w.host, false, 0); ok {
				label.WriteString(s)
			}
		case strings.HasPrefix(line, "TODAY:"):
			off, err := strconv.Atoi(strings.TrimPrefix(line, "TODAY:"))
			if err == nil {
				if s, ok := todayString(w.host, true, int32(off)); ok {
					label.WriteString(s)
				}
			}
		case line == "FONT0":
			data, st := fontBytes(w.host, 0)
			if st != 0 {
				failed = true
				diags = append(diags, diag{sev: 0, msg: data})
			} else {
				fmt.Fprintf(&label, "font0=%d", len(data))
			}
		case line == "INPUTS":
			fmt.Fprintf(&label, "inputs=%d", len(w.inputs))
		case line == "PDFERR":
			// recorded on the document below
		case strings.HasPrefix(line, "LOG:"):
			rest := strings.SplitN(strings.TrimPrefix(line, "LOG:"), ":", 2)
			if len(rest) == 2 {
				lvl, _ := strconv.Atoi(rest[0])
				p, l := newBuffer([]byte(rest[1]))
				hostLogMessage(uint32(lvl), p, l)
				tgFree(p, l)
			}
		}
	}

	if failed {
		return writeResult(false, 0, diags)
	}

	d := nextDoc
	nextDoc++
	docs[d] = &mockDoc{
		pages:  pages,
		label:  label.String(),
		pdfErr: strings.Contains(source, "PDFERR"),
	}
	return writeResult(true, d, diags)
}

func writeResult(success bool, doc uint32, diags []diag) uint32 {
	var diagPtr, diagCount uint32
	if len(diags) > 0 {
		diagCount = uint32(len(diags))
		diagPtr = tgAlloc(diagCount * 36)
		for i, d := range diags {
			addr := diagPtr + uint32(i)*36
			putU32(addr, d.sev)
			mp, ml := newBuffer([]byte(d.msg))
			putU32(addr+4, mp)
			putU32(addr+8, ml)

			var hp, hc uint32
			if len(d.hints) > 0 {
				hc = uint32(len(d.hints))
				hp = tgAlloc(hc * 8)
				for j, hint := range d.hints {
					p, l := newBuffer([]byte(hint))
					putU32(hp+uint32(j)*8, p)
					putU32(hp+uint32(j)*8+4, l)
				}
			}
			putU32(addr+12, hp)
			putU32(addr+16, hc)

			fp, fl := newBuffer([]byte(d.file))
			putU32(addr+20, fp)
			putU32(addr+24, fl)
			putU32(addr+28, d.start)
			putU32(addr+32, d.end)
		}
	}

	ptr := tgAlloc(16)
	var flags uint32
	if success {
		flags = 1
	}
	putU32(ptr, flags)
	putU32(ptr+4, doc)
	putU32(ptr+8, diagPtr)
	putU32(ptr+12, diagCount)
	return ptr
}

//go:wasmexport tg_page_count
func tgPageCount(doc uint32) uint32 {
	d, ok := docs[doc]
	if !ok {
		return 0
	}
	return uint32(d.pages)
}

func writeOut(out uint32, data []byte) {
	p, l := newBuffer(data)
	putU32(out, p)
	putU32(out+4, l)
}

//go:wasmexport tg_render_svg
func tgRenderSVG(doc, page, out uint32) uint32 {
	d, ok := docs[doc]
	if !ok {
		writeOut(out, []byte("unknown document"))
		return 6
	}
	if page >= uint32(d.pages) {
		writeOut(out, []byte(fmt.Sprintf("page %d out of bounds", page)))
		return 6
	}
	writeOut(out, []byte(fmt.Sprintf("<svg><!-- page %d of %d %s --></svg>", page+1, d.pages, d.label)))
	return 0
}

//go:wasmexport tg_render_svg_all
func tgRenderSVGAll(doc, out uint32) uint32 {
	d, ok := docs[doc]
	if !ok {
		writeOut(out, []byte("unknown document"))
		return 6
	}
	if d.pages == 0 {
		writeOut(out, []byte("document has no pages"))
		return 6
	}
	arr := tgAlloc(uint32(d.pages) * 8)
	for i := 0; i < d.pages; i++ {
		svg := fmt.Sprintf("<svg><!-- page %d of %d %s --></svg>", i+1, d.pages, d.label)
		p, l := newBuffer([]byte(svg))
		putU32(arr+uint32(i)*8, p)
		putU32(arr+uint32(i)*8+4, l)
	}
	putU32(out, arr)
	putU32(out+4, uint32(d.pages))
	return 0
}

//go:wasmexport tg_render_pdf
func tgRenderPDF(doc, out uint32) uint32 {
	d, ok := docs[doc]
	if !ok {
		writeOut(out, []byte("unknown document"))
		return 6
	}
	if d.pdfErr {
		writeOut(out, []byte("pdf export not possible"))
		return 6
	}
	writeOut(out, []byte(fmt.Sprintf("%%PDF-1.7\n%% mock %d pages %s", d.pages, d.label)))
	return 0
}

//go:wasmexport tg_doc_free
func tgDocFree(doc uint32) {
	delete(docs, doc)
}

//go:wasmexport tg_cache_evict
func tgCacheEvict(maxAgeSecs uint64) {
	lastEvict = maxAgeSecs
}

// mk_last_evict is a mock-only export for asserting evict plumbing.
//
//go:wasmexport mk_last_evict
func mkLastEvict() uint64 {
	return lastEvict
}
