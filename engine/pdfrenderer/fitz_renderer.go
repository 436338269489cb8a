package pdfrenderer

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
	dpi float64
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer(dpi int) (*FitzRenderer, error) {
	return &FitzRenderer{dpi: float64(dpi)}, nil
}

// RenderPDF converts all pages of a PDF file to images using go-fitz
func (r *FitzRenderer) RenderPDF(filename string) ([]Page, error) {
	return collect(r, filename)
}

// WalkPages renders one page at a time and hands it to fn
func (r *FitzRenderer) WalkPages(filename string, fn func(Page) error) error {
	// MuPDF happily opens some non-PDF inputs, check the file really is one
	if err := CheckHeader(filename); err != nil {
		return err
	}

	doc, err := fitz.New(filename)
	if err != nil {
		return openError(filename, err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	for pageNum := 0; pageNum < numPages; pageNum++ {
		img, err := doc.ImageDPI(pageNum, r.dpi)
		if err != nil {
			return fmt.Errorf("unable to render page %d: %w", pageNum, err)
		}
		if err := fn(Page{Index: pageNum, Image: img}); err != nil {
			return err
		}
	}
	return nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}
