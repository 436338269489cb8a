package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	MaxUploadMB      int
	TempPath         string //absolute path, request scoped uploads live here
	SweepInterval    int    //minutes between temp/debug/history sweeps
	TempMaxAge       int    //minutes before a leftover temp file is removed
	HistoryRetention int    //days of extraction history to keep
	PipelineConfig
}

// PipelineConfig holds the settings shared by the server and the command line tools
type PipelineConfig struct {
	RendererBackend  string
	RenderDPI        int
	EnhanceScale     int
	DebugDump        bool
	DebugPath        string //absolute path to the debug page dump folder
	DebugPagePattern string
	OutputPath       string //absolute path where generated images are written
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// absPath resolves a configured directory, falling back to the raw value
func absPath(logger *slog.Logger, key, defaultValue string) string {
	dir := filepath.ToSlash(getEnv(key, defaultValue))
	abs, err := filepath.Abs(dir)
	if err != nil {
		logger.Error("Failed creating absolute path", "key", key, "path", dir, "error", err)
		return dir
	}
	return abs
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "5000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")
	serverConfigLive.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 32)

	// Extraction history configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "none")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "qrdocs")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "qrdocs")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Temp storage and housekeeping
	serverConfigLive.TempPath = absPath(logger, "TEMP_DIR", "temp")
	serverConfigLive.SweepInterval = getEnvInt("SWEEP_INTERVAL", 10)
	serverConfigLive.TempMaxAge = getEnvInt("TEMP_MAX_AGE", 60)
	serverConfigLive.HistoryRetention = getEnvInt("HISTORY_RETENTION_DAYS", 30)

	serverConfigLive.PipelineConfig = loadPipeline(logger)

	fmt.Println("\n========================================")
	fmt.Println("   qrdocs - PDF QR Code Extraction")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "qrdocs.log"))
	fmt.Println("Initializing...")

	return serverConfigLive, logger
}

// SetupPipeline loads the pipeline configuration for the command line tools
func SetupPipeline() (PipelineConfig, *slog.Logger) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	return loadPipeline(logger), logger
}

func loadPipeline(logger *slog.Logger) PipelineConfig {
	pipeline := PipelineConfig{}
	pipeline.RendererBackend = strings.ToLower(getEnv("RENDERER_BACKEND", "fitz"))
	pipeline.RenderDPI = getEnvInt("RENDER_DPI", 300)
	pipeline.EnhanceScale = getEnvInt("ENHANCE_SCALE", 4)
	if pipeline.EnhanceScale < 1 {
		logger.Warn("ENHANCE_SCALE must be at least 1, using default", "value", pipeline.EnhanceScale)
		pipeline.EnhanceScale = 4
	}

	// Debug page dump is off unless asked for
	pipeline.DebugDump = getEnvBool("DEBUG_DUMP", false)
	pipeline.DebugPath = absPath(logger, "DEBUG_DIR", "debug")
	pipeline.DebugPagePattern = getEnv("DEBUG_PAGE_PATTERN", "debug_page_%d.png")
	pipeline.OutputPath = absPath(logger, "OUTPUT_DIR", ".")

	logger.Info("Pipeline configuration loaded",
		"renderer", pipeline.RendererBackend,
		"dpi", pipeline.RenderDPI,
		"scale", pipeline.EnhanceScale,
		"debugDump", pipeline.DebugDump)
	return pipeline
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else if logOutput == "stderr" {
		logWriter = os.Stderr
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "qrdocs.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// EnsureDir makes sure a configured directory exists and really is a directory
func EnsureDir(path string, logger *slog.Logger) error {
	if path == "" {
		return fmt.Errorf("directory not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("Creating directory", "path", path)
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !info.IsDir() {
		logger.Error("Path exists but is not a directory", "path", path)
		return fmt.Errorf("not a directory: %s", path)
	}
	logger.Debug("Directory exists", "path", path)
	return nil
}
