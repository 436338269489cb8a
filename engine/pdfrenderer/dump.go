package pdfrenderer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DefaultPagePattern names debug page images by their zero based index
const DefaultPagePattern = "debug_page_%d.png"

// Dumper writes rasterized pages to disk so the renderer output can be inspected
type Dumper struct {
	Dir     string
	Pattern string // fmt pattern taking the page index, extension picks the format
}

// Path returns the file a page is written to
func (d Dumper) Path(pageIndex int) string {
	pattern := d.Pattern
	if pattern == "" {
		pattern = DefaultPagePattern
	}
	return filepath.Join(d.Dir, fmt.Sprintf(pattern, pageIndex))
}

// Dump writes every page, returning the paths written
func (d Dumper) Dump(pages []Page) ([]string, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	written := make([]string, 0, len(pages))
	for _, page := range pages {
		path, err := d.DumpPage(page)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// DumpPage writes a single page, creating the directory on first use
func (d Dumper) DumpPage(page Page) (string, error) {
	if err := os.MkdirAll(d.Dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create debug directory: %w", err)
	}
	path := d.Path(page.Index)
	if err := imaging.Save(page.Image, path); err != nil {
		return "", fmt.Errorf("failed to write debug image for page %d: %w", page.Index, err)
	}
	return path, nil
}
