package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/qrdocs/config"
	"github.com/drummonds/qrdocs/engine/enhance"
	"github.com/drummonds/qrdocs/engine/pdfrenderer"
	"github.com/drummonds/qrdocs/engine/qrdecode"
	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when no page carried a QR code
var ErrNotFound = errors.New("no QR code detected")

// JSONDecodeError is returned when the first QR payload is not JSON
type JSONDecodeError struct {
	Payload string
	Err     error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("error decoding JSON: %v", e.Err)
}

func (e *JSONDecodeError) Unwrap() error {
	return e.Err
}

// ImageEnhancer prepares a page image for barcode detection
type ImageEnhancer interface {
	Enhance(img image.Image) *image.Gray
}

// SymbolDecoder finds QR payloads in an image
type SymbolDecoder interface {
	Decode(img image.Image) qrdecode.Result
}

// PageResult is the decoder outcome for one page
type PageResult struct {
	Index    int             `json:"index"`
	Status   qrdecode.Status `json:"-"`
	Payloads []string        `json:"payloads"`
	Err      error           `json:"-"`
}

// Scan holds every payload found in a document, in page order
type Scan struct {
	Source       string       `json:"source"`
	Pages        int          `json:"pages"`
	Payloads     []string     `json:"payloads"`
	PageResults  []PageResult `json:"pageResults"`
	DecodeErrors int          `json:"decodeErrors"`
	DumpPaths    []string     `json:"dumpPaths,omitempty"`
}

// Extraction is the JSON document recovered from the first payload
type Extraction struct {
	ID           string `json:"id"`
	Data         any    `json:"data"`
	Raw          string `json:"-"`
	Pages        int    `json:"pages"`
	PayloadCount int    `json:"payloadCount"`
	DecodeErrors int    `json:"decodeErrors"`
}

// Extractor runs the rasterize, enhance, decode pipeline
type Extractor struct {
	Renderer pdfrenderer.Renderer
	Enhancer ImageEnhancer
	Decoder  SymbolDecoder
	Dumper   *pdfrenderer.Dumper // nil disables the debug page dump
}

// NewExtractor builds the pipeline described by the configuration
func NewExtractor(cfg config.PipelineConfig) (*Extractor, error) {
	renderer, err := pdfrenderer.NewRenderer(cfg.RendererBackend, cfg.RenderDPI)
	if err != nil {
		return nil, err
	}
	extractor := &Extractor{
		Renderer: renderer,
		Enhancer: enhance.New(cfg.EnhanceScale),
		Decoder:  qrdecode.NewDecoder(),
	}
	if cfg.DebugDump {
		extractor.Dumper = &pdfrenderer.Dumper{Dir: cfg.DebugPath, Pattern: cfg.DebugPagePattern}
	}
	return extractor, nil
}

// Close releases the renderer
func (e *Extractor) Close() error {
	if e.Renderer == nil {
		return nil
	}
	return e.Renderer.Close()
}

// WithDumpDir returns a copy of the extractor dumping pages into dir,
// or e itself when dumping is disabled
func (e *Extractor) WithDumpDir(dir string) *Extractor {
	if e.Dumper == nil {
		return e
	}
	copied := *e
	copied.Dumper = &pdfrenderer.Dumper{Dir: dir, Pattern: e.Dumper.Pattern}
	return &copied
}

// Scan rasterizes the PDF and decodes every page
func (e *Extractor) Scan(pdfPath string) (*Scan, error) {
	if err := pdfrenderer.CheckHeader(pdfPath); err != nil {
		return nil, err
	}
	info, err := InspectPDF(pdfPath)
	switch {
	case err != nil:
		// the renderers open more documents than the preflight parser does
		Logger.Debug("PDF preflight failed, deferring to renderer", "path", pdfPath, "error", err)
	case info.Pages == 0:
		Logger.Info("PDF has no pages", "path", pdfPath)
		return &Scan{Source: pdfPath}, nil
	}

	walker, ok := e.Renderer.(pdfrenderer.PageWalker)
	if !ok {
		pages, err := e.Renderer.RenderPDF(pdfPath)
		if err != nil {
			return nil, err
		}
		return e.scanPages(pdfPath, pages)
	}

	start := time.Now()
	scan := &Scan{Source: pdfPath}
	err = walker.WalkPages(pdfPath, func(page pdfrenderer.Page) error {
		e.scanPage(scan, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logScan(scan, start)
	return scan, nil
}

// ProcessPDF returns every QR payload in the document in page order
func (e *Extractor) ProcessPDF(pdfPath string) ([]string, error) {
	scan, err := e.Scan(pdfPath)
	if err != nil {
		return nil, err
	}
	return scan.Payloads, nil
}

// ExtractJSON parses the first QR payload in the document as JSON
func (e *Extractor) ExtractJSON(pdfPath string) (*Extraction, error) {
	scan, err := e.Scan(pdfPath)
	if err != nil {
		return nil, err
	}
	return FirstJSON(scan)
}

// ExtractJSONFromImage runs the pipeline on a single raster image
func (e *Extractor) ExtractJSONFromImage(imagePath string) (*Extraction, error) {
	scan, err := e.ScanImage(imagePath)
	if err != nil {
		return nil, err
	}
	return FirstJSON(scan)
}

// ScanImage decodes a raster image as a one page document
func (e *Extractor) ScanImage(imagePath string) (*Scan, error) {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", pdfrenderer.ErrDocumentOpen, imagePath, err)
	}
	return e.scanPages(imagePath, []pdfrenderer.Page{{Index: 0, Image: img}})
}

func (e *Extractor) scanPages(source string, pages []pdfrenderer.Page) (*Scan, error) {
	start := time.Now()
	scan := &Scan{Source: source}
	for _, page := range pages {
		e.scanPage(scan, page)
	}
	e.logScan(scan, start)
	return scan, nil
}

// scanPage dumps, enhances and decodes one page into scan
func (e *Extractor) scanPage(scan *Scan, page pdfrenderer.Page) {
	scan.Pages++
	if e.Dumper != nil {
		path, err := e.Dumper.DumpPage(page)
		if err != nil {
			Logger.Warn("Unable to write debug page", "dir", e.Dumper.Dir, "page", page.Index, "error", err)
		} else {
			scan.DumpPaths = append(scan.DumpPaths, path)
		}
	}

	enhanced := e.Enhancer.Enhance(page.Image)
	result := e.Decoder.Decode(enhanced)
	pageResult := PageResult{Index: page.Index, Status: result.Status, Payloads: result.Strings(), Err: result.Err}
	if result.Status == qrdecode.StatusError {
		scan.DecodeErrors++
		Logger.Warn("QR decoding failed on page", "source", scan.Source, "page", page.Index, "error", result.Err)
	}
	scan.PageResults = append(scan.PageResults, pageResult)
	scan.Payloads = append(scan.Payloads, pageResult.Payloads...)
}

func (e *Extractor) logScan(scan *Scan, start time.Time) {
	Logger.Info("Document scanned", "source", scan.Source, "pages", scan.Pages, "payloads", len(scan.Payloads),
		"decodeErrors", scan.DecodeErrors, "duration", time.Since(start))
}

// FirstJSON parses the first payload of the scan. Later payloads are never
// tried when the first is not JSON.
func FirstJSON(scan *Scan) (*Extraction, error) {
	if scan == nil || len(scan.Payloads) == 0 {
		return nil, ErrNotFound
	}
	raw := scan.Payloads[0]
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, &JSONDecodeError{Payload: raw, Err: err}
	}
	return &Extraction{
		ID:           ulid.Make().String(),
		Data:         data,
		Raw:          raw,
		Pages:        scan.Pages,
		PayloadCount: len(scan.Payloads),
		DecodeErrors: scan.DecodeErrors,
	}, nil
}

// PDFInfo is what the preflight parser learns about a document
type PDFInfo struct {
	Pages int
	Size  int64
}

// InspectPDF opens the document with a pure Go parser to count its pages
func InspectPDF(path string) (info PDFInfo, err error) {
	stat, err := os.Stat(path)
	if err != nil {
		return info, err
	}
	if stat.IsDir() {
		return info, fmt.Errorf("%s is a directory", path)
	}
	info.Size = stat.Size()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panicked: %v", r)
		}
	}()
	file, reader, err := pdf.Open(path)
	if err != nil {
		return info, err
	}
	defer file.Close()
	info.Pages = reader.NumPage()
	return info, nil
}

// IsImageFile reports whether the upload is handled as a raster image
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif":
		return true
	}
	return false
}
