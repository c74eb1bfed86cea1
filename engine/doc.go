// Package engine embeds the Typst typesetting engine as a WebAssembly
// guest and drives it through a small, fixed ABI.
//
// # Overview
//
// One Engine wraps one wazero runtime with one instantiated guest module.
// The guest carries the typesetting, shaping, and rendering code; the host
// supplies files, fonts, and the clock through the "typst_host" import
// module, consulted re-entrantly while a compile runs. A process normally
// holds a single shared Engine (see Default) so the engine's internal
// memoization cache is shared across sessions; a mutex serializes every
// guest call.
//
// # Guest ABI
//
// All records in guest linear memory are little-endian with 4-byte-aligned
// allocations. A Buffer is {ptr u32, len u32}; a null pointer or zero
// length means empty. Out-parameters are 8-byte Buffer slots provided by
// the caller; a nonzero status makes the slot carry an error message
// instead of a payload.
//
// Guest exports:
//
//	tg_alloc(size) -> ptr            tg_free(ptr, size)
//	tg_version() -> ptr<<32|len      (static, never freed)
//	tg_world_new(world, inputs_ptr, inputs_len, font_count) -> handle
//	tg_world_free(handle)
//	tg_compile(handle) -> result_ptr
//	tg_page_count(doc) -> n
//	tg_render_svg(doc, page, out) -> status
//	tg_render_svg_all(doc, out) -> status    (out: BufferArray on success)
//	tg_render_pdf(doc, out) -> status
//	tg_doc_free(doc)
//	tg_cache_evict(max_age_secs)
//
// tg_render_svg_all's out slot holds {buffers_ptr u32, page_count u32} on
// success, one Buffer record per page; on failure it holds an error
// message Buffer like the other render exports.
//
// Host imports (module "typst_host"):
//
//	read_source(world, id_ptr, id_len, out) -> status
//	read_file(world, id_ptr, id_len, out) -> status
//	font_data(world, index, out) -> status
//	today(world, has_offset, offset_hours, out) -> has_date
//	log_message(level, ptr, len)
//
// A CompileResult record is {flags u32, doc u32, diag_ptr u32, diag_count
// u32}; each Diagnostic record is {severity u32, msg Buffer, hints_ptr u32,
// hints_count u32, file Buffer, span_start u32, span_end u32}. The bridge
// in this package copies every referenced byte out of guest memory and
// releases each guest allocation exactly once.
package engine
