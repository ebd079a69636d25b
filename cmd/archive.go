package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/archive"
	"github.com/jdbirch/awardharvest/internal/harvest"
)

func newArchiveCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Downloads the protocol PDFs a harvest discovered",
		Long: `Reads a harvest JSONL file and downloads each referenced protocol
document into the configured blob store. Documents already present are
skipped, so an interrupted archive run resumes where it left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd, inputPath)
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "harvest JSONL path (defaults to the configured harvest output)")

	return cmd
}

func runArchive(cmd *cobra.Command, inputPath string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()
	cfg := a.Config()

	if inputPath == "" {
		inputPath = cfg.Harvest.OutputPath
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open harvest file: %w", err)
	}
	entries, err := harvest.ReadEntries(f)
	if cerr := f.Close(); cerr != nil {
		logger.Warn("harvest file close failed", zap.Error(cerr))
	}
	if err != nil {
		return fmt.Errorf("read harvest entries: %w", err)
	}
	if len(entries) == 0 {
		logger.Info("no harvest entries to archive", zap.String("input", inputPath))
		return nil
	}

	downloader, err := archive.NewDownloader(a.Blobs(), archive.Config{
		UserAgent: cfg.Archive.UserAgent,
		Delay:     cfg.Archive.Delay(),
		Timeout:   cfg.Archive.Timeout(),
		Prefix:    cfg.Archive.Prefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("build downloader: %w", err)
	}

	summary, err := downloader.Run(cmd.Context(), entries)
	logger.Info("archive finished",
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}
