package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/checkpoint"
	"github.com/jdbirch/awardharvest/internal/harvest"
)

type harvestFlags struct {
	query          string
	checkpointPath string
	outputPath     string
}

func newHarvestCmd() *cobra.Command {
	flags := &harvestFlags{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Walks the full dataset, resumable via checkpoint",
		Long: `Resumes from the saved offset and walks the whole dataset in stable-
sorted batches, appending a JSONL entry for every award whose detail page
links a protocol PDF. Interrupt at any time; the next invocation picks up
at the last completed batch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.query, "query", "q", "", "search query (defaults to the configured match-all)")
	cmd.Flags().StringVar(&flags.checkpointPath, "checkpoint", "", "checkpoint file path (defaults to config)")
	cmd.Flags().StringVar(&flags.outputPath, "out", "", "harvest JSONL path, appended to (defaults to config)")

	return cmd
}

func runHarvest(cmd *cobra.Command, flags *harvestFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()
	cfg := a.Config().Harvest

	query := flags.query
	if query == "" {
		query = cfg.Query
	}
	checkpointPath := flags.checkpointPath
	if checkpointPath == "" {
		checkpointPath = cfg.CheckpointPath
	}
	outputPath := flags.outputPath
	if outputPath == "" {
		outputPath = cfg.OutputPath
	}

	checkpoints, err := checkpoint.NewFileStore(checkpointPath, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open harvest output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("harvest output close failed", zap.Error(cerr))
		}
	}()

	pipeline, err := a.BuildPipeline(checkpoints, harvest.NewJSONLWriter(out))
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if cerr := pipeline.Close(); cerr != nil {
			logger.Warn("pipeline close failed", zap.Error(cerr))
		}
	}()

	stopOps := startOpsServer(a, pipeline.Snapshot)
	defer stopOps()

	logger.Info("harvest run starting",
		zap.String("query", query),
		zap.String("checkpoint", checkpoints.Path()),
		zap.String("output", outputPath))

	if err := pipeline.HarvestLoop(cmd.Context(), harvest.HarvestParams{Query: query}); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}
