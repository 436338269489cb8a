package pdfrenderer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
)

// DefaultDPI is the resolution pages are rasterized at unless configured otherwise
const DefaultDPI = 300

// ErrDocumentOpen is returned when the input cannot be opened as a PDF
var ErrDocumentOpen = errors.New("unable to open PDF document")

// Page is one rasterized page of a document
type Page struct {
	Index int // zero based page number
	Image image.Image
}

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// RenderPDF converts all pages of a PDF file to images
	// Returns a slice of pages in page order, one image per page
	RenderPDF(filename string) ([]Page, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// PageWalker is implemented by renderers that can hand out one page at a time,
// so a caller never holds more than one rasterized page
type PageWalker interface {
	// WalkPages renders the pages in order and stops at the first error fn returns
	WalkPages(filename string, fn func(Page) error) error
}

// headerWindow is how far into the file a PDF header may start
const headerWindow = 1024

// CheckHeader fails with ErrDocumentOpen unless filename starts with a PDF
// header. MuPDF picks its handler from the extension and would otherwise
// render text or image files as documents.
func CheckHeader(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return openError(filename, err)
	}
	defer f.Close()

	head := make([]byte, headerWindow)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return openError(filename, err)
	}
	if !bytes.Contains(head[:n], []byte("%PDF-")) {
		return openError(filename, errors.New("missing %PDF- header"))
	}
	return nil
}

// collect renders every page of filename into a slice
func collect(w PageWalker, filename string) ([]Page, error) {
	var pages []Page
	err := w.WalkPages(filename, func(p Page) error {
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// NewRenderer creates the renderer for the configured backend ("fitz" or "pdfium")
func NewRenderer(backend string, dpi int) (Renderer, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	switch strings.ToLower(backend) {
	case "", "fitz", "mupdf":
		return NewFitzRenderer(dpi)
	case "pdfium":
		return NewPDFiumRenderer(dpi)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q (supported: fitz, pdfium)", backend)
	}
}

// openError wraps a backend failure so callers can match it with errors.Is
func openError(filename string, err error) error {
	return fmt.Errorf("%w %s: %v", ErrDocumentOpen, filename, err)
}
