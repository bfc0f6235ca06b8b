package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/framecut/framecut-agent/internal/config"
	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/logging"
)

type exportFlags struct {
	video      string
	audio      string
	resolution string
	format     string
	quality    int
	output     string
}

func newExportCmd() *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Transcode one video without starting the agent",
		Example: "  framecut export --video cut.mp4 --audio score.mp3 --output final.webm\n" +
			"  framecut export --video cut.mp4 --resolution 1280x720 --quality 60 --output small.mp4",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, inputs, err := f.resolve()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runExport(ctx, cmd.ErrOrStderr(), opts, inputs, f.output)
		},
	}

	cmd.Flags().StringVar(&f.video, "video", "", "source video file (required)")
	cmd.Flags().StringVar(&f.audio, "audio", "", "replacement audio track")
	cmd.Flags().StringVar(&f.resolution, "resolution", export.DefaultOptions().Resolution,
		"output frame size: "+strings.Join(export.Resolutions, ", "))
	cmd.Flags().StringVar(&f.format, "format", "", "mp4 or webm (default: from --output extension, else mp4)")
	cmd.Flags().IntVar(&f.quality, "quality", export.DefaultQuality, "quality from 1 (smallest) to 100 (best)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "destination file (required)")
	_ = cmd.MarkFlagRequired("video")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// resolve validates the flags before any engine work starts and cleans the
// output path in place.
func (f *exportFlags) resolve() (export.Options, export.Inputs, error) {
	opts := export.Options{Resolution: f.resolution, Quality: f.quality}

	switch {
	case f.format != "":
		format, err := export.ParseFormat(f.format)
		if err != nil {
			return opts, export.Inputs{}, err
		}
		opts.Format = format
	default:
		opts.Format = export.FormatMP4
		if ext := strings.TrimPrefix(filepath.Ext(f.output), "."); ext != "" {
			if format, err := export.ParseFormat(ext); err == nil {
				opts.Format = format
			}
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, export.Inputs{}, err
	}
	output, err := export.ValidateOutputPath(f.output)
	if err != nil {
		return opts, export.Inputs{}, err
	}
	f.output = output

	inputs := export.Inputs{Video: f.video, Audio: f.audio}
	for _, p := range []string{inputs.Video, inputs.Audio} {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return opts, inputs, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return opts, inputs, fmt.Errorf("input %s is not a regular file", p)
		}
	}
	return opts, inputs, nil
}

func runExport(ctx context.Context, stderr io.Writer, opts export.Options, inputs export.Inputs, output string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	logger := logging.NewLoggerTo(stderr, cfg.LogLevel())
	orch := newOrchestrator(cfg, logger)
	defer orch.Close()

	if err := orch.Initialize(ctx); err != nil {
		return err
	}

	job, err := orch.Start(ctx, opts, inputs)
	if err != nil {
		return err
	}
	for p := range job.Progress() {
		fmt.Fprintf(stderr, "\rexporting: %3d%%", p)
	}
	fmt.Fprintln(stderr)

	ref, err := job.Wait()
	if err != nil {
		return err
	}
	defer orch.Store().Release(ref.ID)

	_, data, ok := orch.Store().Open(ref.ID)
	if !ok {
		return fmt.Errorf("artifact %s vanished before it was written", ref.ID)
	}
	if err := renameio.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Fprintf(stderr, "wrote %s (%s)\n", output, humanize.Bytes(uint64(ref.Size)))
	return nil
}
