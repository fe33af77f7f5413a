package main

import (
	"os"
	"os/signal"
	"syscall"

	"gopac/internal/analysis"
	"gopac/internal/cfr"
	"gopac/internal/config"
	"gopac/internal/errors"
	"gopac/internal/primes"
	"gopac/internal/report"

	"github.com/spf13/cobra"
)

func newCFRCmd(g *globalFlags) *cobra.Command {
	var count uint64
	var moduli, out, jsonPath string

	cmd := &cobra.Command{
		Use:   "cfr",
		Short: "Measure the composite failure rate of primes against primorial multiples",
		Long: `For every prime q > 7 among the first M primes, find the nearest multiple A of each
primorial and count how often |A - q| is a composite greater than one.

Example: gopac cfr --primes 5000000 --moduli 6,30,210,2310`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			mods := cfg.Run.Moduli
			if cmd.Flags().Changed("moduli") {
				if mods, err = config.ParseModuli(moduli); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := primes.DefaultOptions()
			opts.SegmentBytes = cfg.Engine.SegmentBytes
			opts.Prefetch = cfg.Engine.Prefetch
			stream := primes.NewStream(opts)
			defer stream.Close()

			logger.Info("surveying %d primes under moduli %v", count, mods)
			res, err := cfr.Survey(ctx, stream, count, mods)
			if err != nil {
				return err
			}
			v := analysis.CFRVerdict(res)
			if v.Falsified() {
				logger.Warn("%s: %s (%s)", v.Claim, v.Status, v.Reason)
			} else {
				logger.Info("%s: %s", v.Claim, v.Status)
			}

			if jsonPath != "" {
				if err := writeJSON(jsonPath, res); err != nil {
					return err
				}
			}
			md := report.Markdown(report.BuildCFR(res))
			if out == "" {
				_, err = os.Stdout.Write(md)
				return err
			}
			if err := os.WriteFile(out, md, 0o644); err != nil {
				return errors.Wrapf(err, "failed to write %s", out)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&count, "primes", 1_000_000, "number of primes M to survey")
	cmd.Flags().StringVar(&moduli, "moduli", "", "comma-separated primorial moduli (default from config)")
	cmd.Flags().StringVar(&out, "out", "", "write the Markdown report here instead of stdout")
	cmd.Flags().StringVar(&jsonPath, "json", "", "write the survey result JSON here")
	return cmd
}
