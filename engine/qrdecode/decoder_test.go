package qrdecode

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/skip2/go-qrcode"
)

func qrImage(t *testing.T, content string) image.Image {
	t.Helper()
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		t.Fatalf("Failed to build QR code: %v", err)
	}
	return q.Image(-6)
}

func linearImage(t *testing.T, content string) image.Image {
	t.Helper()
	bc, err := code128.Encode(content)
	if err != nil {
		t.Fatalf("Failed to build Code 128 barcode: %v", err)
	}
	scaled, err := barcode.Scale(bc, 3*bc.Bounds().Dx(), 120)
	if err != nil {
		t.Fatalf("Failed to scale barcode: %v", err)
	}
	return scaled
}

func TestDecodeFindsQRCode(t *testing.T) {
	payload := `{"document_no": "12345XYZ"}`
	canvas := imaging.New(400, 400, color.White)
	canvas = imaging.Paste(canvas, qrImage(t, payload), image.Pt(40, 40))

	result := NewDecoder().Decode(canvas)
	if result.Status != StatusFound {
		t.Fatalf("Expected StatusFound, got %v (err %v)", result.Status, result.Err)
	}
	if diff := cmp.Diff([]string{payload}, result.Strings()); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}

// mixedCanvas holds a QR code beside a Code 128 barcode
func mixedCanvas(t *testing.T, payload string) image.Image {
	t.Helper()
	canvas := imaging.New(1000, 420, color.White)
	canvas = imaging.Paste(canvas, qrImage(t, payload), image.Pt(30, 30))
	return imaging.Paste(canvas, linearImage(t, "LINEAR-0001"), image.Pt(420, 150))
}

func hasSymbol(symbols []Symbol, kind Symbology, payload string) bool {
	for _, s := range symbols {
		if s.Type == kind && string(s.Payload) == payload {
			return true
		}
	}
	return false
}

func TestDecodeIgnoresLinearBarcode(t *testing.T) {
	payload := `{"survey_no": "789XYZ"}`

	result := NewDecoder().Decode(mixedCanvas(t, payload))
	if result.Status != StatusFound {
		t.Fatalf("Expected StatusFound, got %v (err %v)", result.Status, result.Err)
	}
	if !hasSymbol(result.Symbols, Code128, "LINEAR-0001") {
		t.Fatalf("Code 128 barcode was not detected, symbols: %+v", result.Symbols)
	}
	if diff := cmp.Diff([]string{payload}, result.Payloads); diff != "" {
		t.Errorf("Only the QR payload should be returned (-want +got):\n%s", diff)
	}
	for _, s := range result.Symbols {
		if s.Type != QRCode && string(s.Payload) == payload {
			t.Errorf("QR payload reported under symbology %s", s.Type)
		}
	}
}

func TestDecodeConcurrentUse(t *testing.T) {
	payload := `{"document_no": "12345XYZ"}`
	img := mixedCanvas(t, payload)
	decoder := NewDecoder()

	var wg sync.WaitGroup
	results := make(chan Result, 8*5)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				results <- decoder.Decode(img)
			}
		}()
	}
	wg.Wait()
	close(results)

	for result := range results {
		if result.Status != StatusFound || len(result.Payloads) != 1 || result.Payloads[0] != payload {
			t.Fatalf("Unexpected result under concurrent use: %v %q (err %v)", result.Status, result.Payloads, result.Err)
		}
		if !hasSymbol(result.Symbols, Code128, "LINEAR-0001") {
			t.Fatalf("Code 128 barcode lost under concurrent use: %+v", result.Symbols)
		}
	}
}

func TestDecodeRejectsInvalidUTF8Payload(t *testing.T) {
	canvas := imaging.New(400, 400, color.White)
	canvas = imaging.Paste(canvas, qrImage(t, "{\"a\":\"\xff\xfe\"}"), image.Pt(40, 40))

	result := NewDecoder().Decode(canvas)
	if result.Status != StatusError {
		t.Fatalf("Expected StatusError, got %v with payloads %q", result.Status, result.Payloads)
	}
	if result.Strings() != nil {
		t.Errorf("No payload should survive an invalid UTF-8 symbol, got %q", result.Strings())
	}
	if len(result.Symbols) != 1 || len(result.Symbols[0].Segments) == 0 {
		t.Errorf("Expected the raw byte segments to be kept, got %+v", result.Symbols)
	}
}

func TestDecodeBlankImage(t *testing.T) {
	result := NewDecoder().Decode(imaging.New(200, 200, color.White))
	if result.Status != StatusNone {
		t.Fatalf("Expected StatusNone, got %v (err %v)", result.Status, result.Err)
	}
	if result.Strings() != nil {
		t.Errorf("Expected no strings, got %v", result.Strings())
	}
}

func TestQRPayloadsFiltersSymbology(t *testing.T) {
	symbols := []Symbol{
		{Type: Code128, Payload: []byte("LINEAR")},
		{Type: QRCode, Payload: []byte("first")},
		{Type: EAN13, Payload: []byte("4006381333931")},
		{Type: QRCode, Payload: []byte("second")},
	}
	got, err := QRPayloads(symbols)
	if err != nil {
		t.Fatalf("QRPayloads failed: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("Unexpected payloads (-want +got):\n%s", diff)
	}
}

func TestQRPayloadsRejectsInvalidUTF8(t *testing.T) {
	_, err := QRPayloads([]Symbol{{Type: QRCode, Payload: []byte{0xff, 0xfe, 0x00}}})
	if err == nil {
		t.Fatal("Expected error for invalid UTF-8 payload")
	}
	// replacement characters in the text do not hide bad raw segments
	replaced := Symbol{Type: QRCode, Payload: []byte("\ufffd\ufffd"), Segments: [][]byte{{0xff, 0xfe}}}
	if _, err := QRPayloads([]Symbol{replaced}); err == nil {
		t.Fatal("Expected error for invalid raw segment")
	}
	valid := Symbol{Type: QRCode, Payload: []byte("é"), Segments: [][]byte{[]byte("é")}}
	if _, err := QRPayloads([]Symbol{valid}); err != nil {
		t.Fatalf("Valid segment rejected: %v", err)
	}
}

func TestResultStringsOnError(t *testing.T) {
	r := Result{Status: StatusError, Payloads: []string{"ignored"}}
	if r.Strings() != nil {
		t.Errorf("Error result should expose no strings, got %v", r.Strings())
	}
	if StatusError.String() != "error" || StatusFound.String() != "found" || StatusNone.String() != "none" {
		t.Error("Unexpected status names")
	}
}
