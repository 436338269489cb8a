package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drummonds/qrdocs/config"
	"github.com/drummonds/qrdocs/database"
	"github.com/drummonds/qrdocs/engine/pdfrenderer"
	"github.com/drummonds/qrdocs/internal/build"
	"github.com/drummonds/qrdocs/qrgen"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Extractor    *Extractor
	Generator    qrgen.Generator
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
}

// AddRoutes registers the API on the handler's echo instance
func (serverHandler *ServerHandler) AddRoutes() {
	e := serverHandler.Echo
	limit := middleware.BodyLimit(fmt.Sprintf("%dM", serverHandler.maxUploadMB()))

	e.POST("/api/extract-qr", serverHandler.ExtractQR, limit)
	e.POST("/api/generate-qr", serverHandler.GenerateQR, limit)

	// Extraction history
	e.GET("/api/extractions", serverHandler.GetRecentExtractions)
	e.GET("/api/extractions/:id", serverHandler.GetExtraction)

	// Admin
	e.GET("/api/health", serverHandler.Health)
	e.GET("/api/about", serverHandler.GetAboutInfo)
}

func (serverHandler *ServerHandler) maxUploadMB() int {
	if serverHandler.ServerConfig.MaxUploadMB <= 0 {
		return 32
	}
	return serverHandler.ServerConfig.MaxUploadMB
}

func errorJSON(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]interface{}{"error": message})
}

// ExtractQR reads the QR code embedded in an uploaded PDF (or image) and returns its JSON
// @Summary Extract QR JSON from a document
// @Description Rasterizes every page, decodes the QR codes and parses the first payload as JSON
// @Tags QR
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF or image to scan"
// @Success 200 {object} map[string]interface{} "data, id, pages, payloadCount"
// @Failure 400 {object} map[string]interface{} "No file uploaded / No file selected"
// @Failure 404 {object} map[string]interface{} "No QR code detected"
// @Failure 413 {object} map[string]interface{} "Upload too large"
// @Failure 422 {object} map[string]interface{} "Document could not be opened"
// @Failure 500 {object} map[string]interface{} "Error decoding JSON"
// @Router /extract-qr [post]
func (serverHandler *ServerHandler) ExtractQR(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return serverHandler.uploadError(c, err)
	}
	if fileHeader.Filename == "" {
		return errorJSON(c, http.StatusBadRequest, "No file selected")
	}

	id := ulid.Make()
	tempPath, err := serverHandler.saveUpload(id, fileHeader)
	if err != nil {
		Logger.Error("Unable to store upload", "file", fileHeader.Filename, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Unable to store upload")
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			Logger.Warn("Unable to remove temp file", "path", tempPath, "error", err)
		}
	}()

	start := time.Now()
	extractor := serverHandler.Extractor.WithDumpDir(filepath.Join(serverHandler.ServerConfig.DebugPath, id.String()))
	var scan *Scan
	if IsImageFile(fileHeader.Filename) {
		scan, err = extractor.ScanImage(tempPath)
	} else {
		scan, err = extractor.Scan(tempPath)
	}
	var extraction *Extraction
	if err == nil {
		extraction, err = FirstJSON(scan)
	}

	record := &database.Extraction{ID: id, FileName: fileHeader.Filename, CreatedAt: start}
	if scan != nil {
		record.Pages = scan.Pages
		record.PayloadCount = len(scan.Payloads)
		record.DecodeErrors = scan.DecodeErrors
		if len(scan.Payloads) > 0 {
			record.Payload = scan.Payloads[0]
		}
	}
	defer func() {
		record.DurationMS = time.Since(start).Milliseconds()
		if err := serverHandler.DB.SaveExtraction(record); err != nil {
			Logger.Error("Unable to record extraction", "id", id, "error", err)
		}
	}()

	var decodeErr *JSONDecodeError
	switch {
	case err == nil:
		record.Status = database.ExtractionSuccess
	case errors.Is(err, pdfrenderer.ErrDocumentOpen):
		record.Status, record.Error = database.ExtractionOpenError, err.Error()
		Logger.Warn("Unable to open upload", "file", fileHeader.Filename, "error", err)
		// err names the temp file, the client only knows its own file name
		return errorJSON(c, http.StatusUnprocessableEntity, fmt.Sprintf("%v %s", pdfrenderer.ErrDocumentOpen, fileHeader.Filename))
	case errors.Is(err, ErrNotFound):
		record.Status = database.ExtractionNotFound
		return errorJSON(c, http.StatusNotFound, "No QR code detected")
	case errors.As(err, &decodeErr):
		record.Status, record.Error = database.ExtractionDecodeError, decodeErr.Err.Error()
		return errorJSON(c, http.StatusInternalServerError, fmt.Sprintf("Error decoding JSON: %v", decodeErr.Err))
	default:
		record.Status, record.Error = database.ExtractionFailed, err.Error()
		Logger.Error("QR extraction failed", "file", fileHeader.Filename, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "QR extraction failed")
	}

	extraction.ID = id.String()
	Logger.Info("QR data extracted", "id", extraction.ID, "file", fileHeader.Filename, "pages", extraction.Pages, "payloads", extraction.PayloadCount)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":         extraction.Data,
		"id":           extraction.ID,
		"pages":        extraction.Pages,
		"payloadCount": extraction.PayloadCount,
	})
}

// uploadError maps a failed form lookup to the response the client sees
func (serverHandler *ServerHandler) uploadError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge,
		errors.As(err, &maxBytesErr):
		return errorJSON(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", serverHandler.maxUploadMB()))
	case errors.Is(err, http.ErrMissingFile):
		// a file part sent without a filename is parsed as a plain value
		if form := c.Request().MultipartForm; form != nil {
			if _, ok := form.Value["file"]; ok {
				return errorJSON(c, http.StatusBadRequest, "No file selected")
			}
		}
		return errorJSON(c, http.StatusBadRequest, "No file uploaded")
	default:
		Logger.Warn("Problem finding file", "error", err)
		return errorJSON(c, http.StatusBadRequest, "No file uploaded")
	}
}

// saveUpload copies the upload to a request scoped temp file
func (serverHandler *ServerHandler) saveUpload(id ulid.ULID, fileHeader *multipart.FileHeader) (string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dir := serverHandler.ServerConfig.TempPath
	if dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return "", err
		}
	}
	// anything that is not an image is handed to the renderer as a PDF
	ext := ".pdf"
	if IsImageFile(fileHeader.Filename) {
		ext = strings.ToLower(filepath.Ext(fileHeader.Filename))
	}
	dst, err := os.CreateTemp(dir, TempFilePrefix+id.String()+"_*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// GenerateQR encodes a JSON document (the sample land record when the body is empty) as a PNG QR code
// @Summary Generate a QR code
// @Description Encodes the posted JSON document into a QR code image
// @Tags QR
// @Accept json
// @Produce png
// @Param record body qrgen.LandRecord false "Document to encode"
// @Success 200 {file} binary "PNG image"
// @Failure 400 {object} map[string]interface{} "Body is not JSON"
// @Failure 422 {object} map[string]interface{} "Payload does not fit a QR code"
// @Router /generate-qr [post]
func (serverHandler *ServerHandler) GenerateQR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return serverHandler.uploadError(c, err)
	}

	var document any = qrgen.DefaultLandRecord()
	if len(strings.TrimSpace(string(body))) > 0 {
		var posted any
		if err := json.Unmarshal(body, &posted); err != nil {
			return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("Error decoding JSON: %v", err))
		}
		document = posted
	}

	img, err := serverHandler.Generator.EncodeValue(document)
	if errors.Is(err, qrgen.ErrCapacity) {
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		Logger.Error("QR generation failed", "error", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "image/png")
	c.Response().WriteHeader(http.StatusOK)
	return qrgen.EncodePNG(c.Response(), img)
}

// Health reports that the server is up
// @Summary Health check
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "status ok"
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
}

// GetAboutInfo returns information about the application configuration
// @Summary Get application information
// @Description Retrieve information about the application configuration, version, and database
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	cfg := serverHandler.ServerConfig

	aboutInfo := map[string]interface{}{
		"version":         build.Version,
		"rendererBackend": cfg.RendererBackend,
		"renderDPI":       cfg.RenderDPI,
		"enhanceScale":    cfg.EnhanceScale,
		"debugDump":       cfg.DebugDump,
		"maxUploadMB":     serverHandler.maxUploadMB(),
		"databaseType":    cfg.DatabaseType,
		"databaseHost":    cfg.DatabaseHost,
		"databasePort":    cfg.DatabasePort,
		"databaseName":    cfg.DatabaseDbname,
	}

	return c.JSON(http.StatusOK, aboutInfo)
}
