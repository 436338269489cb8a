// Package qrgen encodes JSON documents into QR code images and PDFs.
package qrgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/skip2/go-qrcode"
)

// ErrCapacity is returned when a payload does not fit the configured QR version
var ErrCapacity = errors.New("payload exceeds QR code capacity")

// DefaultOutputFile is where the qrgen command writes its image
const DefaultOutputFile = "land_document_qr.png"

func init() {
	// pdfcpu would otherwise create a config dir in the user's home
	api.DisableConfigDir()
}

// Generator holds the QR symbol settings
type Generator struct {
	Version int                  // minimum QR version, 1-40
	Level   qrcode.RecoveryLevel // error correction
	BoxSize int                  // pixels per module
	Border  int                  // quiet zone in modules
	Fit     bool                 // grow the version when the payload does not fit
}

// NewGenerator returns the default settings: version 5, level L, 10px boxes, 4 module border
func NewGenerator() Generator {
	return Generator{
		Version: 5,
		Level:   qrcode.Low,
		BoxSize: 10,
		Border:  4,
		Fit:     true,
	}
}

// ParseLevel maps L, M, Q and H to a recovery level
func ParseLevel(level string) (qrcode.RecoveryLevel, error) {
	switch strings.ToUpper(level) {
	case "L":
		return qrcode.Low, nil
	case "M":
		return qrcode.Medium, nil
	case "Q":
		return qrcode.High, nil
	case "H":
		return qrcode.Highest, nil
	default:
		return qrcode.Low, fmt.Errorf("unknown error correction level %q", level)
	}
}

// Marshal serializes v as JSON indented with four spaces
func Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}

// Encode renders payload as a black on white QR code image
func (g Generator) Encode(payload []byte) (image.Image, error) {
	if g.Version < 1 || g.Version > 40 {
		return nil, fmt.Errorf("QR version %d out of range 1-40", g.Version)
	}
	if g.BoxSize < 1 {
		return nil, fmt.Errorf("box size must be positive, got %d", g.BoxSize)
	}
	if g.Border < 0 {
		return nil, fmt.Errorf("border must not be negative, got %d", g.Border)
	}

	content := string(payload)
	q, err := qrcode.NewWithForcedVersion(content, g.Version, g.Level)
	if err != nil {
		if !g.Fit {
			return nil, fmt.Errorf("%w: version %d: %v", ErrCapacity, g.Version, err)
		}
		// the smallest version that holds the payload is above g.Version here
		q, err = qrcode.New(content, g.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
		}
	}
	q.DisableBorder = true
	q.ForegroundColor = color.Black
	q.BackgroundColor = color.White

	symbol := q.Image(-g.BoxSize)
	pad := g.Border * g.BoxSize
	b := symbol.Bounds()
	canvas := imaging.New(b.Dx()+2*pad, b.Dy()+2*pad, color.White)
	return imaging.Paste(canvas, symbol, image.Pt(pad, pad)), nil
}

// EncodeValue marshals v and encodes it
func (g Generator) EncodeValue(v any) (image.Image, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal record: %w", err)
	}
	return g.Encode(payload)
}

// WritePNG encodes v and saves the image at path
func (g Generator) WritePNG(path string, v any) error {
	img, err := g.EncodeValue(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save QR image: %w", err)
	}
	return nil
}

// WritePDF encodes v and places the QR image on a single page PDF at path
func (g Generator) WritePDF(path string, v any) error {
	tempDir, err := os.MkdirTemp("", "qrgen_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	imagePath := filepath.Join(tempDir, "qr.png")
	if err := g.WritePNG(imagePath, v); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := api.ImportImagesFile([]string{imagePath}, path, pdfcpu.DefaultImportConfig(), nil); err != nil {
		return fmt.Errorf("failed to write QR PDF: %w", err)
	}
	return nil
}

// EncodePNG writes img to w as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
