package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/tvarr/internal/codecadapter"
	"github.com/jmylchreest/tvarr/internal/version"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive one codec component against an MPEG-TS input",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("input", "", "path to an MPEG-TS file (required)")
	runCmd.Flags().String("output", "", "path to write decoded output (defaults to stdout)")
	runCmd.Flags().String("track", "video", "track to decode: video or audio")
	runCmd.Flags().String("ffmpeg-output-format", "s16le", "raw ffmpeg output format passed as -f")
	_ = runCmd.MarkFlagRequired("input")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()
	logger.Info("codecadapterd starting",
		slog.String("version", version.GetInfo().Version),
		slog.String("go", version.GetInfo().GoVersion),
	)

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := codecadapter.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	trackFlag, _ := cmd.Flags().GetString("track")
	outputFormat, _ := cmd.Flags().GetString("ffmpeg-output-format")

	track := codecadapter.TrackVideo
	if trackFlag == "audio" {
		track = codecadapter.TrackAudio
	}

	inputFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer inputFile.Close()

	out := os.Stdout
	if outputPath != "" {
		outFile, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer outFile.Close()
		out = outFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A quick PMT-only pass checks that the stream carries a recognizable
	// elementary stream before the full pull-based source is started; its
	// MIME is used only if the source's own Format() reports none. Rewind
	// afterwards so the source reads from the start.
	probeFormat, err := codecadapter.ProbeMPEGTSFormat(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("probing stream format: %w", err)
	}
	if _, err := inputFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding input: %w", err)
	}

	source := codecadapter.NewMPEGTSSource(inputFile, track, logger)
	if err := source.Start(ctx, codecadapter.StartOptions{}); err != nil {
		return fmt.Errorf("starting source: %w", err)
	}
	defer source.Stop(context.Background())

	// The source still needs a moment to parse its own track table before
	// its per-track Format() agrees with the PMT-derived hint above.
	format, err := waitForFormat(ctx, source)
	if err != nil {
		return fmt.Errorf("waiting for source format: %w", err)
	}
	if format.MIME == "" {
		format = probeFormat
	}

	backend, err := codecadapter.NewFFmpegBackend(codecadapter.FFmpegBackendConfig{
		BinaryPath:    cfg.FFmpeg.BinaryPath,
		MIME:          format.MIME,
		RawOutputArgs: []string{"-f", outputFormat},
		InputBufSize:  int(cfg.Buffer.InputBufferSize.Bytes()),
		OutputBufSize: int(cfg.Buffer.OutputBufferSize.Bytes()),
	}, logger)
	if err != nil {
		return fmt.Errorf("constructing ffmpeg backend: %w", err)
	}

	quirks := codecadapter.Quirks{
		CoalesceInputFrames: cfg.Quirks.CoalesceInputFrames,
		CoalesceWindow:      cfg.Quirks.CoalesceWindow,
		// FFmpegBackend's SendCommand no-ops Flush/PortDisable/PortEnable
		// without ever emitting a completion event, so the core must
		// synthesize those completions itself rather than wait for one
		// that will never arrive.
		RequiresFlushCompleteEmulation: true,
	}
	prog, ok := codecadapter.DefaultRegistry().Lookup(format.MIME)
	if !ok {
		return fmt.Errorf("configuring codec adapter: %w: no configuration programmer for %q", codecadapter.ErrUnsupportedProfile, format.MIME)
	}

	core := codecadapter.New(backend, source, quirks, prog, logger)

	if err := core.Configure(ctx, format); err != nil {
		return fmt.Errorf("configuring codec adapter: %w", err)
	}
	if err := core.Start(ctx, codecadapter.StartOptions{}); err != nil {
		return fmt.Errorf("starting codec adapter: %w", err)
	}

	deliveredBytes, err := pumpOutput(ctx, core, out, logger)
	closeErr := core.Close(context.Background())

	logger.Info("run complete", slog.Int64("bytes_written", deliveredBytes))
	if err != nil {
		return err
	}
	return closeErr
}

// waitForFormat polls Format() until the source's track probe completes or
// ctx is cancelled.
func waitForFormat(ctx context.Context, source *codecadapter.MPEGTSSource) (codecadapter.SourceFormat, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if format := source.Format(); format.MIME != "" {
			return format, nil
		}
		select {
		case <-ctx.Done():
			return codecadapter.SourceFormat{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// pumpOutput repeatedly reads decoded buffers from core and writes their
// payload to out until end of stream, an error, or ctx cancellation.
func pumpOutput(ctx context.Context, core *codecadapter.Core, out *os.File, logger *slog.Logger) (int64, error) {
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		deliverable, err := core.Read(ctx, codecadapter.ReadOptions{})
		switch {
		case errors.Is(err, codecadapter.ErrEndOfStream):
			logger.Info("end of stream")
			return total, nil
		case errors.Is(err, codecadapter.ErrFormatChanged):
			logger.Info("output format changed")
			continue
		case err != nil:
			return total, fmt.Errorf("reading output: %w", err)
		}

		n, werr := out.Write(deliverable.Data)
		total += int64(n)
		if releaseErr := core.SignalBufferReturned(ctx, deliverable); releaseErr != nil {
			return total, fmt.Errorf("returning output buffer: %w", releaseErr)
		}
		if werr != nil {
			return total, fmt.Errorf("writing output: %w", werr)
		}
	}
}
