package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/drummonds/qrdocs/engine/qrdecode"
	"github.com/drummonds/qrdocs/qrgen"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("OUTPUT_DIR", dir)

	var stdout, stderr bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &stdout
	cmd.ErrWriter = &stderr
	err := cmd.Run(context.Background(), append([]string{"qrgen"}, args...))
	return dir, stdout.String(), err
}

func decodeFile(t *testing.T, path string) []string {
	t.Helper()
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Unable to open %s: %v", path, err)
	}
	result := qrdecode.NewDecoder().Decode(img)
	if result.Status != qrdecode.StatusFound {
		t.Fatalf("No QR code in %s: %v", path, result.Err)
	}
	return result.Strings()
}

func TestGenerateDefaultRecord(t *testing.T) {
	dir, stdout, err := runCommand(t)
	if err != nil {
		t.Fatalf("qrgen failed: %v", err)
	}
	path := filepath.Join(dir, qrgen.DefaultOutputFile)
	if !strings.Contains(stdout, path) {
		t.Errorf("Output path not reported: %q", stdout)
	}

	want, err := qrgen.Marshal(qrgen.DefaultLandRecord())
	if err != nil {
		t.Fatal(err)
	}
	payloads := decodeFile(t, path)
	if len(payloads) != 1 || payloads[0] != string(want) {
		t.Errorf("Unexpected payload %q", payloads)
	}
}

func TestGenerateFromInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "record.json")
	if err := os.WriteFile(input, []byte(`{"id": 7}`), 0644); err != nil {
		t.Fatal(err)
	}
	dir, _, err := runCommand(t, "--input", input, "--out", "small.png", "--qr-version", "2", "--level", "M", "--box-size", "4", "--border", "2")
	if err != nil {
		t.Fatalf("qrgen failed: %v", err)
	}
	path := filepath.Join(dir, "small.png")
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	// version 2 is 25 modules plus a two module border each side
	if size := (25 + 4) * 4; img.Bounds().Dx() != size {
		t.Errorf("Expected %dpx image, got %dpx", size, img.Bounds().Dx())
	}
	payloads := decodeFile(t, path)
	if len(payloads) != 1 || payloads[0] != "{\n    \"id\": 7\n}" {
		t.Errorf("Unexpected payload %q", payloads)
	}
}

func TestGenerateNoFit(t *testing.T) {
	_, _, err := runCommand(t, "--qr-version", "1", "--no-fit")
	if !errors.Is(err, qrgen.ErrCapacity) {
		t.Fatalf("Expected ErrCapacity, got %v", err)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "record.json")
	if err := os.WriteFile(input, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCommand(t, "--input", input); err == nil {
		t.Error("Expected error for invalid JSON input")
	}
	if _, _, err := runCommand(t, "--level", "X"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestGeneratePDF(t *testing.T) {
	dir, _, err := runCommand(t, "--pdf", "--out", "record.png")
	if err != nil {
		t.Fatalf("qrgen failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "record.pdf"))
	if err != nil {
		t.Fatalf("PDF not written: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("Output is not a PDF: %q", data[:min(len(data), 16)])
	}
}

func TestGenerateUnknownFlag(t *testing.T) {
	_, _, err := runCommand(t, "--nope")
	if !errors.Is(err, errUsage) {
		t.Fatalf("Expected usage error, got %v", err)
	}
	if code := exitCode(err); code != 2 {
		t.Errorf("Expected exit code 2, got %d", code)
	}
	if _, _, err := runCommand(t, "--qr-version"); err == nil {
		t.Error("Expected error for a flag missing its value")
	}
	if code := exitCode(qrgen.ErrCapacity); code != 1 {
		t.Errorf("Expected exit code 1 for a generation failure, got %d", code)
	}
}
