// Command qrextract prints the JSON carried by the first QR code in a PDF.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/drummonds/qrdocs/config"
	"github.com/drummonds/qrdocs/engine"
	"github.com/drummonds/qrdocs/engine/pdfrenderer"
	"github.com/drummonds/qrdocs/engine/qrdecode"
	"github.com/drummonds/qrdocs/internal/build"
	"github.com/urfave/cli/v3"
)

var errUsage = errors.New("incorrect usage")

// usageError tags flag parsing failures so they share the usage exit code
func usageError(_ context.Context, cmd *cli.Command, err error, _ bool) error {
	fmt.Fprintf(cmd.Root().ErrWriter, "Incorrect Usage: %v\n", err)
	return fmt.Errorf("%w: %v", errUsage, err)
}

// injectGlobals injects the logger into the packages the pipeline uses
func injectGlobals(logger *slog.Logger) {
	config.Logger = logger
	engine.Logger = logger
	qrdecode.Logger = logger
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "qrextract",
		Usage:     "Extract the JSON document embedded as a QR code in a PDF or image",
		ArgsUsage: "<file.pdf>",
		Version:   build.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Also write the extracted JSON to this file",
			},
			&cli.StringFlag{
				Name:  "debug-dir",
				Usage: "Write every rasterized page to this folder",
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "PDF renderer (fitz or pdfium)",
				Sources: cli.EnvVars("RENDERER_BACKEND"),
			},
			&cli.IntFlag{
				Name:    "dpi",
				Usage:   "Rasterization resolution",
				Sources: cli.EnvVars("RENDER_DPI"),
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Print every QR payload found instead of parsing the first as JSON",
			},
		},
		OnUsageError: usageError,
		Action:       run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: expected exactly one input file, got %d", errUsage, cmd.NArg())
	}
	input := cmd.Args().First()

	// stdout carries the JSON, keep the log off it
	if os.Getenv("LOG_OUTPUT") == "" {
		os.Setenv("LOG_OUTPUT", "stderr")
	}
	pipeline, logger := config.SetupPipeline()
	injectGlobals(logger)

	if cmd.IsSet("backend") {
		pipeline.RendererBackend = cmd.String("backend")
	}
	if cmd.IsSet("dpi") {
		pipeline.RenderDPI = int(cmd.Int("dpi"))
	}
	if dir := cmd.String("debug-dir"); dir != "" {
		pipeline.DebugDump = true
		pipeline.DebugPath = dir
	}

	extractor, err := engine.NewExtractor(pipeline)
	if err != nil {
		return err
	}
	defer extractor.Close()

	var scan *engine.Scan
	if engine.IsImageFile(input) {
		scan, err = extractor.ScanImage(input)
	} else {
		scan, err = extractor.Scan(input)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().ErrWriter, "Pages in PDF: %d\n", scan.Pages)
	if pipeline.DebugDump {
		fmt.Fprintf(cmd.Root().ErrWriter, "Debug images written to %s\n", pipeline.DebugPath)
	}

	var result any
	if cmd.Bool("all") {
		result = scan.Payloads
		if result == nil {
			result = []string{}
		}
	} else {
		extraction, err := engine.FirstJSON(scan)
		if err != nil {
			return err
		}
		result = extraction.Data
	}

	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, string(data))

	if out := cmd.String("out"); out != "" {
		if err := os.MkdirAll(filepath.Dir(out), os.ModePerm); err != nil {
			return err
		}
		if err := os.WriteFile(out, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("unable to write %s: %w", out, err)
		}
		logger.Info("Extracted JSON written", "path", out)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for usage errors, 3 when the input cannot be opened and 1 otherwise
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, pdfrenderer.ErrDocumentOpen):
		return 3
	}
	return 1
}
