package main

import (
	"encoding/json"
	"os"

	"gopac/domain/run"
	"gopac/internal/analysis"
	"gopac/internal/errors"

	"github.com/spf13/cobra"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	var snapshotPath, out, html, xlsx string
	var topK int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render the report of a saved run",
		Long: `Render Markdown, HTML or XLSX reports from the JSON written by "gopac run --json".

Example: gopac report --snapshot run.json --out report.md --xlsx report.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := g.load()
			if err != nil {
				return err
			}
			saved, err := readSavedRun(snapshotPath)
			if err != nil {
				return err
			}
			current := run.NewRunFingerprint(saved.Manifest.Parameters.ConfigHash(), run.CodeVersion)
			if !saved.Manifest.Compatible(current) {
				logger.Warn("%s was written by %s; counts may differ from %s", snapshotPath, saved.Manifest.CodeVersion, run.CodeVersion)
			}
			return writeReports(*saved, topK, out, html, xlsx, logger)
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON written by gopac run --json")
	cmd.Flags().StringVar(&out, "out", "", "write the Markdown report here")
	cmd.Flags().StringVar(&html, "html", "", "write the HTML report here")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the XLSX workbook here")
	cmd.Flags().IntVar(&topK, "top-k", analysis.DefaultTopK, "composite k values listed individually")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func readSavedRun(path string) (*savedRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var saved savedRun
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if saved.Manifest == nil || saved.Snapshot == nil {
		return nil, errors.InvalidInput(path + " holds no manifest and snapshot")
	}
	return &saved, nil
}
