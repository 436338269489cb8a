// Command qrgen encodes a JSON record as a QR code image or single page PDF.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/drummonds/qrdocs/config"
	"github.com/drummonds/qrdocs/internal/build"
	"github.com/drummonds/qrdocs/qrgen"
	"github.com/urfave/cli/v3"
)

var errUsage = errors.New("incorrect usage")

func usageError(_ context.Context, cmd *cli.Command, err error, _ bool) error {
	fmt.Fprintf(cmd.Root().ErrWriter, "Incorrect Usage: %v\n", err)
	return fmt.Errorf("%w: %v", errUsage, err)
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "qrgen",
		Usage:   "Generate a QR code carrying a JSON record",
		Version: build.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Value:   qrgen.DefaultOutputFile,
				Usage:   "Output file, relative paths land in OUTPUT_DIR",
			},
			&cli.BoolFlag{
				Name:  "pdf",
				Usage: "Place the QR code on a single page PDF (implied by a .pdf output)",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "JSON file to encode instead of the sample land record",
			},
			&cli.IntFlag{
				Name:  "qr-version",
				Value: 5,
				Usage: "QR symbol version (1-40)",
			},
			&cli.StringFlag{
				Name:  "level",
				Value: "L",
				Usage: "Error correction level (L, M, Q or H)",
			},
			&cli.IntFlag{
				Name:  "box-size",
				Value: 10,
				Usage: "Pixels per module",
			},
			&cli.IntFlag{
				Name:  "border",
				Value: 4,
				Usage: "Quiet zone width in modules",
			},
			&cli.BoolFlag{
				Name:  "no-fit",
				Usage: "Fail instead of growing the version when the record does not fit",
			},
		},
		OnUsageError: usageError,
		Action:       run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if os.Getenv("LOG_OUTPUT") == "" {
		os.Setenv("LOG_OUTPUT", "stderr")
	}
	pipeline, logger := config.SetupPipeline()

	level, err := qrgen.ParseLevel(cmd.String("level"))
	if err != nil {
		return err
	}
	generator := qrgen.Generator{
		Version: int(cmd.Int("qr-version")),
		Level:   level,
		BoxSize: int(cmd.Int("box-size")),
		Border:  int(cmd.Int("border")),
		Fit:     !cmd.Bool("no-fit"),
	}

	var record any = qrgen.DefaultLandRecord()
	if input := cmd.String("input"); input != "" {
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("unable to read %s: %w", input, err)
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%s is not valid JSON: %w", input, err)
		}
		record = v
	}

	out := cmd.String("out")
	if !filepath.IsAbs(out) {
		out = filepath.Join(pipeline.OutputPath, out)
	}
	asPDF := cmd.Bool("pdf") || strings.EqualFold(filepath.Ext(out), ".pdf")
	if asPDF && !strings.EqualFold(filepath.Ext(out), ".pdf") {
		out = strings.TrimSuffix(out, filepath.Ext(out)) + ".pdf"
	}

	if asPDF {
		err = generator.WritePDF(out, record)
	} else {
		err = generator.WritePNG(out, record)
	}
	if err != nil {
		return err
	}

	logger.Info("QR code written", "path", out, "pdf", asPDF)
	fmt.Fprintf(cmd.Root().Writer, "QR code generated and saved as %s\n", out)
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

// exitCode is 2 for usage errors and 1 otherwise
func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}
