package engine

import (
	"github.com/drummonds/qrdocs/config"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	cfg := serverHandler.ServerConfig
	rendererChecks(cfg.PipelineConfig)
	dirs := map[string]string{
		"temp":   cfg.TempPath,
		"output": cfg.OutputPath,
	}
	if cfg.DebugDump {
		dirs["debug"] = cfg.DebugPath
	}
	for name, path := range dirs {
		if path == "" {
			Logger.Warn("Directory not configured", "name", name)
			continue
		}
		if err := config.EnsureDir(path, Logger); err != nil {
			Logger.Error("Directory check failed", "name", name, "path", path, "error", err)
			return err
		}
	}
	return nil
}

// rendererChecks logs the raster settings in use
func rendererChecks(cfg config.PipelineConfig) {
	if cfg.RenderDPI < 72 {
		Logger.Warn("Render DPI is low, small QR codes may not be found", "dpi", cfg.RenderDPI)
	}
	if cfg.EnhanceScale > 4 {
		Logger.Warn("Large enhance scale, pages will use a lot of memory", "scale", cfg.EnhanceScale)
	}
	Logger.Info("Renderer configured", "backend", cfg.RendererBackend, "dpi", cfg.RenderDPI, "enhanceScale", cfg.EnhanceScale)
}
