package experiments

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"palm/config"
	"palm/experiments/metrics"
)

// RunSeeds repeats the generator run once per seed and saves a sweep.csv
// comparing the runs. A cancelled context stops after the current run; the
// sweep of the runs so far is still saved and the context error returned.
func RunSeeds(ctx context.Context, cfg config.Config, seeds []uint64, collector metrics.Collector) ([]Summary, error) {
	var summaries []Summary
	var records []metrics.SweepRecord
	var interrupted error

	log.Info().Msgf("Starting sweep over %d seeds...", len(seeds))
	for i, seed := range seeds {
		if err := ctx.Err(); err != nil {
			log.Warn().Msgf("Sweep interrupted before run %d of %d", i+1, len(seeds))
			break
		}
		log.Info().Msgf("Starting run %d of %d with seed %d...", i+1, len(seeds), seed)

		run := cfg
		run.Seed = seed
		summary, err := Run(ctx, run, collector)
		stopped := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if err != nil && (!stopped || summary.Dir == "") {
			return summaries, fmt.Errorf("run with seed %d: %w", seed, err)
		}
		summaries = append(summaries, summary)

		metric := summary.Result.Metric
		records = append(records, metrics.SweepRecord{
			Seed:         seed,
			Dir:          summary.Dir,
			SearchMetric: metric,
		})
		log.Info().Msgf("Completed run %d of %d: %d failures", i+1, len(seeds), len(summary.Result.Failures))
		if err != nil {
			interrupted = err
			break
		}
	}
	if interrupted == nil {
		interrupted = ctx.Err()
	}

	writer, err := metrics.NewWriter(cfg.TestsFolder)
	if err != nil {
		return summaries, fmt.Errorf("failed to create sweep writer: %w", err)
	}
	err = writer.WriteSweep(records)
	if err != nil {
		return summaries, err
	}
	log.Info().Msgf("Stored sweep records in %s", writer.Dir())
	return summaries, interrupted
}
