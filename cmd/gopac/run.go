package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"gopac/domain/run"
	"gopac/internal"
	"gopac/internal/aggregate"
	"gopac/internal/analysis"
	"gopac/internal/checkpoint"
	"gopac/internal/config"
	"gopac/internal/errors"
	"gopac/internal/metrics"
	"gopac/internal/pipeline"
	"gopac/internal/report"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// savedRun is the JSON written by --json and read back by the report command.
type savedRun struct {
	Manifest *run.Manifest       `json:"manifest"`
	Snapshot *aggregate.Snapshot `json:"snapshot"`
}

type runFlags struct {
	pairs, offset, searchBound, fixRadius uint64
	moduli                                string
	workers, blockSize                    int
	checkpointDriver, checkpointDSN       string
	checkpointEvery                       uint64
	resume                                bool
	metricsAddr                           string
	out, html, xlsx, failuresCSV, json    string
	topK                                  int
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Test the anchors of N consecutive prime pairs",
		Long: `Build S_n = p_n + p_{n+1} for N consecutive prime pairs starting at n0, find the
nearest prime to each anchor, classify the distance, and aggregate exact counts per
primorial residue class.

Example: gopac run --pairs 50000000 --offset 11 --moduli 6,30,210,2310 --out report.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return executeRun(ctx, cfg, f, logger)
		},
	}

	fl := cmd.Flags()
	fl.Uint64Var(&f.pairs, "pairs", 0, "number of consecutive prime pairs N")
	fl.Uint64Var(&f.offset, "offset", 0, "index n0 of the first pair")
	fl.StringVar(&f.moduli, "moduli", "", "comma-separated primorial moduli")
	fl.Uint64Var(&f.searchBound, "search-bound", 0, "maximum nearest-prime search distance")
	fl.Uint64Var(&f.fixRadius, "fix-radius", 0, "Law III fix radius (0 disables correction)")
	fl.IntVar(&f.workers, "workers", 0, "search workers")
	fl.IntVar(&f.blockSize, "block-size", 0, "anchors per work block")
	fl.StringVar(&f.checkpointDriver, "checkpoint-driver", "", "sqlite3 or postgres")
	fl.StringVar(&f.checkpointDSN, "checkpoint-dsn", "", "checkpoint database DSN")
	fl.Uint64Var(&f.checkpointEvery, "checkpoint-every", 0, "anchors between checkpoints")
	fl.BoolVar(&f.resume, "resume", false, "continue from the latest checkpoint")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	fl.StringVar(&f.out, "out", "", "write the Markdown report here")
	fl.StringVar(&f.html, "html", "", "write the HTML report here")
	fl.StringVar(&f.xlsx, "xlsx", "", "write the XLSX workbook here")
	fl.StringVar(&f.failuresCSV, "failures-csv", "", "write every Law I failure here")
	fl.StringVar(&f.json, "json", "", "write manifest and snapshot JSON here")
	fl.IntVar(&f.topK, "top-k", analysis.DefaultTopK, "composite k values listed individually")
	return cmd
}

// apply overrides the configuration with flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("pairs") {
		cfg.Run.Pairs = f.pairs
	}
	if changed("offset") {
		cfg.Run.Offset = f.offset
	}
	if changed("moduli") {
		m, err := config.ParseModuli(f.moduli)
		if err != nil {
			return err
		}
		cfg.Run.Moduli = m
	}
	if changed("search-bound") {
		cfg.Run.SearchBound = f.searchBound
	}
	if changed("fix-radius") {
		cfg.Run.FixRadius = f.fixRadius
	}
	if changed("workers") {
		cfg.Engine.Workers = f.workers
	}
	if changed("block-size") {
		cfg.Engine.BlockSize = f.blockSize
	}
	if changed("checkpoint-driver") {
		cfg.Checkpoint.Driver = f.checkpointDriver
	}
	if changed("checkpoint-dsn") {
		cfg.Checkpoint.DSN = f.checkpointDSN
	}
	if changed("checkpoint-every") {
		cfg.Checkpoint.Every = f.checkpointEvery
	}
	if changed("metrics-addr") {
		cfg.Server.MetricsAddr = f.metricsAddr
	}
	if f.resume && cfg.Checkpoint.DSN == "" {
		return errors.ConfigInvalid("--resume needs a checkpoint DSN")
	}
	return cfg.Validate()
}

func executeRun(ctx context.Context, cfg *config.Config, f *runFlags, logger *internal.Logger) error {
	reg := prometheus.NewRegistry()
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.New(reg)),
	}

	if cfg.Server.MetricsAddr != "" {
		srv := startMetricsServer(cfg.Server.MetricsAddr, reg, logger)
		defer srv.shutdown()
	}

	if cfg.Checkpoint.DSN != "" {
		store, err := checkpoint.Open(ctx, cfg.Checkpoint.Driver, cfg.Checkpoint.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, pipeline.WithCheckpoints(store))
	}

	var sink *report.CSVSink
	if f.failuresCSV != "" {
		file, err := os.Create(f.failuresCSV)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", f.failuresCSV)
		}
		defer file.Close()
		sink = report.NewCSVSink(file)
		opts = append(opts, pipeline.WithFailureSink(sink))
	}

	runner, err := pipeline.NewRunner(pipeline.Options{
		Params:          cfg.Parameters(),
		Workers:         cfg.Engine.Workers,
		BlockSize:       cfg.Engine.BlockSize,
		SegmentBytes:    cfg.Engine.SegmentBytes,
		Prefetch:        cfg.Engine.Prefetch,
		ProgressEvery:   cfg.Engine.ProgressEvery,
		CheckpointEvery: cfg.Checkpoint.Every,
		Resume:          f.resume,
	}, opts...)
	if err != nil {
		return err
	}

	snap, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if sink != nil {
		if err := sink.Flush(); err != nil {
			return errors.Wrapf(err, "failed to write %s", f.failuresCSV)
		}
		logger.Info("wrote %d failures to %s", sink.Rows(), f.failuresCSV)
	}

	saved := savedRun{Manifest: runner.Manifest(), Snapshot: snap}
	if f.json != "" {
		if err := writeJSON(f.json, saved); err != nil {
			return err
		}
	}
	if err := writeReports(saved, f.topK, f.out, f.html, f.xlsx, logger); err != nil {
		return err
	}

	if !snap.Holds() {
		return errors.Violation(len(snap.Violations))
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// writeReports renders the saved run; with no output paths the Markdown
// report goes to stdout.
func writeReports(saved savedRun, topK int, out, html, xlsx string, logger *internal.Logger) error {
	rep, err := analysis.Analyze(saved.Snapshot, analysis.Options{TopK: topK})
	if err != nil {
		return err
	}
	doc := report.Build(saved.Manifest, rep)

	if out == "" && html == "" && xlsx == "" {
		_, err := os.Stdout.Write(report.Markdown(doc))
		return err
	}
	if out != "" {
		if err := os.WriteFile(out, report.Markdown(doc), 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", out)
		}
		logger.Info("wrote %s", out)
	}
	if html != "" {
		if err := os.WriteFile(html, report.HTML(doc), 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", html)
		}
		logger.Info("wrote %s", html)
	}
	if xlsx != "" {
		if err := report.WriteXLSX(xlsx, doc); err != nil {
			return errors.Wrapf(err, "failed to write %s", xlsx)
		}
		logger.Info("wrote %s", xlsx)
	}
	return nil
}
