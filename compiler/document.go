package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodguyjay/typstgo/engine"
)

var (
	ErrDocumentClosed  = errors.New("document closed")
	ErrPageOutOfBounds = errors.New("page index out of bounds")
	ErrNoPages         = errors.New("document has no pages")
)

// Document is one successfully compiled artifact. It holds engine-side
// state until Close and stays valid after its Compiler is closed. Not safe
// for concurrent use.
type Document struct {
	eng    *engine.Engine
	handle uint32
	pages  int
	closed bool
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pages
}

// RenderSVG renders one page as SVG. Pages are zero-based; an index at or
// past PageCount fails with ErrPageOutOfBounds.
func (d *Document) RenderSVG(ctx context.Context, page int) ([]byte, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if page < 0 || page >= d.pages {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfBounds, page, d.pages)
	}
	return d.eng.RenderSVG(ctx, d.handle, uint32(page))
}

// RenderSVGAll renders every page, one SVG per page. A zero-page document
// fails with ErrNoPages.
func (d *Document) RenderSVGAll(ctx context.Context) ([][]byte, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	if d.pages == 0 {
		return nil, ErrNoPages
	}
	return d.eng.RenderSVGAll(ctx, d.handle)
}

// RenderPDF renders the document as PDF. Export failures carry every
// engine message, joined.
func (d *Document) RenderPDF(ctx context.Context) ([]byte, error) {
	if d.closed {
		return nil, ErrDocumentClosed
	}
	data, err := d.eng.RenderPDF(ctx, d.handle)
	if err != nil {
		var re *engine.RenderError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("pdf rendering failed: %s", re.Message)
		}
		return nil, err
	}
	return data, nil
}

// Close releases the document's engine-side state. Idempotent.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.eng.FreeDocument(context.Background(), d.handle)
}
