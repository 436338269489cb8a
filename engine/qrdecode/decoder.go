package qrdecode

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"unicode/utf8"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Symbology names the barcode type of a detected symbol
type Symbology string

const (
	QRCode  Symbology = "QRCODE"
	Code128 Symbology = "CODE128"
	EAN13   Symbology = "EAN13"
	Other   Symbology = "OTHER"
)

// Symbol is a single barcode found in an image
type Symbol struct {
	Type    Symbology
	Payload []byte
	// Segments are the raw byte mode segments of a QR code, before any
	// character set decoding replaced invalid sequences
	Segments [][]byte
}

// Status tells callers why a Result does or does not carry payloads
type Status int

const (
	StatusNone Status = iota
	StatusFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusError:
		return "error"
	default:
		return "none"
	}
}

// Result is the outcome of decoding one image
type Result struct {
	Status   Status
	Symbols  []Symbol // every symbol detected, any symbology
	Payloads []string // UTF-8 text of the QR symbols, detector order
	Err      error
}

// Strings returns the QR payloads, empty unless Status is StatusFound
func (r Result) Strings() []string {
	if r.Status != StatusFound {
		return nil
	}
	return r.Payloads
}

// Decoder finds barcodes in an image and keeps the QR codes. The gozxing
// readers keep scratch buffers, so every Decode call builds its own and a
// Decoder is safe for concurrent use.
type Decoder struct{}

// NewDecoder creates a decoder scanning for QR codes and common linear barcodes
func NewDecoder() *Decoder {
	return &Decoder{}
}

func decodeHints() map[gozxing.DecodeHintType]interface{} {
	return map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER:    true,
		gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
	}
}

// Decode runs detection over img. It never panics; failures come back as StatusError.
func (d *Decoder) Decode(img image.Image) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in barcode detection", "panic", r)
			result = Result{Status: StatusError, Err: fmt.Errorf("barcode detection panicked: %v", r)}
		}
	}()

	symbols, err := d.detect(img)
	if err != nil {
		Logger.Warn("QR decoding error", "error", err)
		return Result{Status: StatusError, Err: err}
	}

	payloads, err := QRPayloads(symbols)
	if err != nil {
		Logger.Warn("QR decoding error", "error", err)
		return Result{Status: StatusError, Symbols: symbols, Err: err}
	}
	if len(payloads) == 0 {
		return Result{Status: StatusNone, Symbols: symbols}
	}
	return Result{Status: StatusFound, Symbols: symbols, Payloads: payloads}
}

// detect returns every symbol the readers recognise, QR codes first
func (d *Decoder) detect(img image.Image) ([]Symbol, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("unable to binarize image: %w", err)
	}

	hints := decodeHints()
	var symbols []Symbol
	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, hints)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("qr detection failed: %w", err)
	}
	for _, r := range results {
		symbols = append(symbols, toSymbol(r))
	}

	linear := []gozxing.Reader{
		oned.NewCode128Reader(),
		oned.NewEAN13Reader(),
	}
	for _, reader := range linear {
		r, err := reader.Decode(bmp, hints)
		if err != nil {
			// linear codes are only detected so they can be filtered out
			continue
		}
		symbols = append(symbols, toSymbol(r))
	}
	return symbols, nil
}

// QRPayloads keeps the QR symbols and decodes their payloads as UTF-8
func QRPayloads(symbols []Symbol) ([]string, error) {
	var payloads []string
	for _, s := range symbols {
		if s.Type != QRCode {
			continue
		}
		if !utf8.Valid(s.Payload) {
			return nil, fmt.Errorf("qr payload is not valid UTF-8")
		}
		for _, segment := range s.Segments {
			if !utf8.Valid(segment) {
				return nil, fmt.Errorf("qr payload is not valid UTF-8: % x", segment)
			}
		}
		payloads = append(payloads, string(s.Payload))
	}
	return payloads, nil
}

func toSymbol(r *gozxing.Result) Symbol {
	symbol := Symbol{Type: symbology(r.GetBarcodeFormat()), Payload: []byte(r.GetText())}
	if segments, ok := r.GetResultMetadata()[gozxing.ResultMetadataType_BYTE_SEGMENTS].([][]byte); ok {
		symbol.Segments = segments
	}
	return symbol
}

func symbology(format gozxing.BarcodeFormat) Symbology {
	switch format {
	case gozxing.BarcodeFormat_QR_CODE:
		return QRCode
	case gozxing.BarcodeFormat_CODE_128:
		return Code128
	case gozxing.BarcodeFormat_EAN_13:
		return EAN13
	default:
		return Other
	}
}

func isNotFound(err error) bool {
	var nf gozxing.NotFoundException
	return errors.As(err, &nf)
}
