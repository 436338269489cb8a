package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/drummonds/qrdocs/config"
	"github.com/drummonds/qrdocs/database"
	"github.com/drummonds/qrdocs/engine/enhance"
	"github.com/drummonds/qrdocs/engine/pdfrenderer"
	"github.com/drummonds/qrdocs/engine/qrdecode"
	"github.com/drummonds/qrdocs/internal/testpdf"
	"github.com/drummonds/qrdocs/qrgen"
	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
)

// setupTestServer creates a handler with the API routes registered and a sqlite history store
func setupTestServer(t *testing.T, extractor *Extractor, dbType string) (*echo.Echo, *ServerHandler) {
	t.Helper()
	dir := t.TempDir()

	repo, err := database.NewRepository(config.ServerConfig{DatabaseType: dbType, DatabaseDbname: filepath.Join(dir, "history.sqlite")})
	if err != nil {
		t.Fatalf("Failed to set up history store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	serverConfig := config.ServerConfig{
		DatabaseType: dbType,
		MaxUploadMB:  1,
		TempPath:     filepath.Join(dir, "temp"),
		PipelineConfig: config.PipelineConfig{
			RendererBackend: "fitz",
			RenderDPI:       300,
			EnhanceScale:    4,
			DebugPath:       filepath.Join(dir, "debug"),
			OutputPath:      dir,
		},
	}

	e := echo.New()
	e.HideBanner = true
	serverHandler := &ServerHandler{
		Extractor:    extractor,
		Generator:    qrgen.NewGenerator(),
		DB:           repo,
		Echo:         e,
		ServerConfig: serverConfig,
	}
	serverHandler.AddRoutes()
	return e, serverHandler
}

func fakeExtractor(renderer *fakeRenderer, results ...qrdecode.Result) *Extractor {
	return &Extractor{Renderer: renderer, Enhancer: passThrough{}, Decoder: &fakeDecoder{results: results}}
}

// uploadRequest builds a multipart request carrying content in the "file" field
func uploadRequest(t *testing.T, fieldName, fileName string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(content)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/extract-qr", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func assertTempEmpty(t *testing.T, h *ServerHandler) {
	t.Helper()
	entries, _ := os.ReadDir(h.ServerConfig.TempPath)
	if len(entries) != 0 {
		t.Errorf("Temp folder not cleaned up, %d entries left", len(entries))
	}
}

func TestExtractQRSuccess(t *testing.T) {
	renderer := &fakeRenderer{pages: blankPages(2)}
	e, h := setupTestServer(t, fakeExtractor(renderer,
		qrdecode.Result{Status: qrdecode.StatusNone},
		found(`{"document_no": "12345XYZ"}`, `ignored`),
	), "sqlite")

	rec := serve(e, uploadRequest(t, "file", "land.pdf", testpdf.Build(2, "")))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if diff := cmp.Diff(map[string]interface{}{"document_no": "12345XYZ"}, body["data"]); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
	if body["pages"] != float64(2) || body["payloadCount"] != float64(2) {
		t.Errorf("Unexpected counts: %v", body)
	}
	assertTempEmpty(t, h)

	id, _ := body["id"].(string)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/extractions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected history record, got %d: %s", rec.Code, rec.Body.String())
	}
	record := decodeBody(t, rec)
	if record["status"] != string(database.ExtractionSuccess) || record["fileName"] != "land.pdf" {
		t.Errorf("Unexpected history record: %v", record)
	}
}

func TestExtractQRErrors(t *testing.T) {
	openErr := fmt.Errorf("%w bad.pdf: broken xref", pdfrenderer.ErrDocumentOpen)
	tests := []struct {
		name      string
		extractor *Extractor
		pages     int
		code      int
		message   string
		status    database.ExtractionStatus
	}{
		{"not found", fakeExtractor(&fakeRenderer{pages: blankPages(1)}, qrdecode.Result{}), 1, http.StatusNotFound, "No QR code detected", database.ExtractionNotFound},
		{"zero pages", fakeExtractor(&fakeRenderer{}), 0, http.StatusNotFound, "No QR code detected", database.ExtractionNotFound},
		{"invalid json", fakeExtractor(&fakeRenderer{pages: blankPages(1)}, found("plain text")), 1, http.StatusInternalServerError, "Error decoding JSON: ", database.ExtractionDecodeError},
		{"open failure", fakeExtractor(&fakeRenderer{err: openErr}), 1, http.StatusUnprocessableEntity, "unable to open PDF document", database.ExtractionOpenError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, h := setupTestServer(t, tt.extractor, "sqlite")
			rec := serve(e, uploadRequest(t, "file", "doc.pdf", testpdf.Build(tt.pages, "")))
			if rec.Code != tt.code {
				t.Fatalf("Expected status %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			message, _ := decodeBody(t, rec)["error"].(string)
			if !strings.HasPrefix(message, tt.message) {
				t.Errorf("Error %q does not start with %q", message, tt.message)
			}
			assertTempEmpty(t, h)

			history, err := h.DB.GetRecentExtractions(10, 0)
			if err != nil || len(history) != 1 {
				t.Fatalf("Expected one history record, got %v (%v)", history, err)
			}
			if history[0].Status != tt.status {
				t.Errorf("History status = %s, want %s", history[0].Status, tt.status)
			}
		})
	}
}

func TestExtractQRBadRequests(t *testing.T) {
	e, _ := setupTestServer(t, fakeExtractor(&fakeRenderer{}), "none")

	rec := serve(e, uploadRequest(t, "document", "doc.pdf", []byte("%PDF-1.4")))
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["error"] != "No file uploaded" {
		t.Errorf("Missing field: got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, uploadRequest(t, "file", "", []byte("%PDF-1.4")))
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["error"] != "No file selected" {
		t.Errorf("Empty filename: got %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/extract-qr", strings.NewReader("not multipart"))
	req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
	if rec = serve(e, req); rec.Code != http.StatusBadRequest {
		t.Errorf("Non multipart body: got %d", rec.Code)
	}

	big := bytes.Repeat([]byte("x"), 2<<20)
	if rec = serve(e, uploadRequest(t, "file", "big.pdf", big)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Oversized upload: got %d", rec.Code)
	}
}

func TestExtractQRRejectsNonPDFUpload(t *testing.T) {
	renderer := &fakeRenderer{pages: blankPages(1)}
	e, h := setupTestServer(t, fakeExtractor(renderer, qrdecode.Result{}), "sqlite")

	for _, name := range []string{"notes.txt", "notes.pdf"} {
		rec := serve(e, uploadRequest(t, "file", name, []byte("meeting notes, not a document")))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected status 422, got %d: %s", name, rec.Code, rec.Body.String())
		}
		message, _ := decodeBody(t, rec)["error"].(string)
		if !strings.HasPrefix(message, "unable to open PDF document") || !strings.HasSuffix(message, name) {
			t.Errorf("%s: unexpected error %q", name, message)
		}
		if strings.Contains(message, h.ServerConfig.TempPath) || strings.Contains(message, TempFilePrefix) {
			t.Errorf("%s: error leaks the temp path: %q", name, message)
		}
	}
	if renderer.calls != 0 {
		t.Errorf("Renderer ran %d times on non PDF uploads", renderer.calls)
	}
	assertTempEmpty(t, h)
}

func TestExtractQRImageUpload(t *testing.T) {
	img, err := qrgen.NewGenerator().EncodeValue(map[string]string{"survey_no": "789XYZ"})
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}

	extractor := &Extractor{Renderer: &fakeRenderer{}, Enhancer: enhance.New(1), Decoder: qrdecode.NewDecoder()}
	e, h := setupTestServer(t, extractor, "none")
	rec := serve(e, uploadRequest(t, "file", "scan.PNG", buf.Bytes()))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff(map[string]interface{}{"survey_no": "789XYZ"}, decodeBody(t, rec)["data"]); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
	assertTempEmpty(t, h)
}

func TestGenerateQR(t *testing.T) {
	e, _ := setupTestServer(t, fakeExtractor(&fakeRenderer{}), "none")
	decoder := qrdecode.NewDecoder()

	for name, body := range map[string]string{
		"default record": "",
		"posted json":    `{"document_no": "A1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/generate-qr", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := serve(e, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
				t.Errorf("Content-Type = %q", ct)
			}
			img, _, err := image.Decode(rec.Body)
			if err != nil {
				t.Fatalf("Response is not an image: %v", err)
			}
			result := decoder.Decode(img)
			if result.Status != qrdecode.StatusFound {
				t.Fatalf("Generated QR not decodable: %v", result.Err)
			}
			if body != "" && !strings.Contains(result.Payloads[0], `"document_no": "A1"`) {
				t.Errorf("Unexpected payload %q", result.Payloads[0])
			}
			if body == "" && !strings.Contains(result.Payloads[0], "MAHARASTRA GOVERNMENT") {
				t.Errorf("Default record not encoded: %q", result.Payloads[0])
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate-qr", strings.NewReader("{broken"))
	if rec := serve(e, req); rec.Code != http.StatusBadRequest {
		t.Errorf("Invalid JSON: got %d", rec.Code)
	}
}

func TestHistoryRoutes(t *testing.T) {
	e, _ := setupTestServer(t, fakeExtractor(&fakeRenderer{}), "sqlite")

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/extractions", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Empty history: got %d %s", rec.Code, rec.Body.String())
	}
	if rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/extractions/not-a-ulid", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("Invalid ID: got %d", rec.Code)
	}
	if rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/extractions/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("Unknown ID: got %d", rec.Code)
	}

	disabled, _ := setupTestServer(t, fakeExtractor(&fakeRenderer{}), "none")
	if rec = serve(disabled, httptest.NewRequest(http.MethodGet, "/api/extractions", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Disabled history: got %d", rec.Code)
	}
}

func TestHealthAndAbout(t *testing.T) {
	e, _ := setupTestServer(t, fakeExtractor(&fakeRenderer{}), "none")

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Errorf("Health: got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/about", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("About: got %d", rec.Code)
	}
	about := decodeBody(t, rec)
	if about["rendererBackend"] != "fitz" || about["databaseType"] != "none" || about["maxUploadMB"] != float64(1) {
		t.Errorf("Unexpected about info: %v", about)
	}
}
