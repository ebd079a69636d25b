package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/harvest"
	"github.com/jdbirch/awardharvest/internal/report"
)

type searchFlags struct {
	query      string
	from       string
	to         string
	programme  string
	maxRows    int
	recordsOut string
	namesOut   string
	jsonlOut   string
}

func newSearchCmd() *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs a bounded search-and-enrich export",
		Long: `Fetches every award matching the query, filters by date range and
programme, enriches each survivor's detail page, and writes the enriched
table plus the investigator-name frequency table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.query, "query", "q", "", "search query (required)")
	cmd.Flags().StringVar(&flags.from, "from", "", "earliest award date, YYYY-MM-DD")
	cmd.Flags().StringVar(&flags.to, "to", "", "latest award date, YYYY-MM-DD")
	cmd.Flags().StringVar(&flags.programme, "programme", "", "keep only awards whose funding stream contains this text")
	cmd.Flags().IntVar(&flags.maxRows, "max-rows", 0, "stop enriching after this many records (0 = all)")
	cmd.Flags().StringVar(&flags.recordsOut, "out", "awards.csv", "enriched-records CSV path")
	cmd.Flags().StringVar(&flags.namesOut, "names-out", "names.csv", "name-frequency CSV path")
	cmd.Flags().StringVar(&flags.jsonlOut, "jsonl-out", "", "optional enriched-records JSONL path")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runSearch(cmd *cobra.Command, flags *searchFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()

	from, err := parseDateFlag(flags.from)
	if err != nil {
		return fmt.Errorf("parse --from: %w", err)
	}
	to, err := parseDateFlag(flags.to)
	if err != nil {
		return fmt.Errorf("parse --to: %w", err)
	}

	pipeline, err := a.BuildPipeline(nil, nil)
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

	records, err := pipeline.Export(cmd.Context(), harvest.ExportParams{
		Query:     flags.query,
		From:      from,
		To:        to,
		Programme: flags.programme,
		MaxRows:   flags.maxRows,
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	rep := report.Build(records)
	if err := writeReportFile(flags.recordsOut, rep.WriteRecordsCSV); err != nil {
		return err
	}
	if err := writeReportFile(flags.namesOut, rep.WriteNamesCSV); err != nil {
		return err
	}
	if flags.jsonlOut != "" {
		if err := writeReportFile(flags.jsonlOut, rep.WriteRecordsJSONL); err != nil {
			return err
		}
	}

	logger.Info("export written",
		zap.Int("records", len(records)),
		zap.String("records_csv", flags.recordsOut),
		zap.String("names_csv", flags.namesOut))
	return nil
}

func parseDateFlag(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, errors.New("dates must be YYYY-MM-DD")
	}
	return &t, nil
}

func writeReportFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
