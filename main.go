package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/qrdocs/config"
	database "github.com/drummonds/qrdocs/database"
	engine "github.com/drummonds/qrdocs/engine"
	"github.com/drummonds/qrdocs/engine/qrdecode"
	"github.com/drummonds/qrdocs/qrgen"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	qrdecode.Logger = Logger
}

// newServer wires the pipeline, the history store and the API routes together
func newServer(serverConfig config.ServerConfig, db database.Repository) (*engine.ServerHandler, error) {
	extractor, err := engine.NewExtractor(serverConfig.PipelineConfig)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
	}))
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	serverHandler := &engine.ServerHandler{
		Extractor:    extractor,
		Generator:    qrgen.NewGenerator(),
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
	}
	serverHandler.AddRoutes()
	return serverHandler, nil
}

// @title qrdocs API
// @version 1.0
// @description Extracts the JSON document carried by a QR code in an uploaded PDF or image
// @description and generates QR codes from JSON records

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:5000
// @BasePath /api
// @schemes http https

// @tag.name QR
// @tag.description QR extraction and generation
// @tag.name History
// @tag.description Extraction history
// @tag.name Admin
// @tag.description Health and configuration
func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Extraction history will be destroyed on exit")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	serverHandler, err := newServer(serverConfig, db)
	if err != nil {
		Logger.Error("Failed to set up QR pipeline", "error", err)
		os.Exit(1)
	}
	defer serverHandler.Extractor.Close()

	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")
	scheduler := serverHandler.InitializeSchedules() //initialize the sweeper
	defer scheduler.Stop()

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}
	Logger.Info("Starting HTTP server")

	if err := startWithPortRetry(serverHandler.Echo, &serverConfig, 5); err != nil {
		Logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

// startWithPortRetry starts echo, moving to the next port while the current one is taken
func startWithPortRetry(e *echo.Echo, serverConfig *config.ServerConfig, maxRetries int) error {
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)
		if startErr == nil || startErr == http.ErrServerClosed {
			return nil
		}
		if !isAddressInUse(startErr) {
			return startErr
		}

		Logger.Warn("Port already in use, trying next port",
			"port", serverConfig.ListenAddrPort,
			"attempt", attempt+1,
			"max_attempts", maxRetries)
		portNum := 0
		fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
		portNum++
		serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)
	}

	Logger.Error("Failed to find available port after maximum retries",
		"start_port", startPort,
		"end_port", serverConfig.ListenAddrPort,
		"max_retries", maxRetries)
	return startErr
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
