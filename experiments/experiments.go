package experiments

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"palm/config"
	"palm/engine"
	"palm/experiments/metrics"
	"palm/scenario"
	"palm/searcher"
)

type Summary struct {
	// Dir holds the saved test cases, tree and summary of the run.
	Dir    string
	Result searcher.Result
}

// Run generates failure-inducing test cases for the configured mission and
// saves them under a new timestamped folder of cfg.TestsFolder. collector may
// be nil.
func Run(ctx context.Context, cfg config.Config, collector metrics.Collector) (Summary, error) {
	mission, err := scenario.LoadMission(cfg.Mission)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load mission: %w", err)
	}
	log.Info().Msgf("Loaded mission %q from %s", mission.Name, cfg.Mission)

	executor, proxy, err := newExecutor(cfg)
	if err != nil {
		return Summary{}, err
	}
	policy, err := searcher.ParseSimulationPolicy(cfg.Simulation)
	if err != nil {
		return Summary{}, err
	}

	writer, err := metrics.NewWriter(cfg.TestsFolder)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create test case writer: %w", err)
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	mcts, err := searcher.NewMCTS(mission, executor,
		searcher.WithBudget(cfg.Budget),
		searcher.WithMaxObstacles(cfg.MaxObstacles),
		searcher.WithExplorationRate(cfg.ExplorationRate),
		searcher.WithWidening(cfg.C, cfg.Alpha, cfg.CList),
		searcher.WithSeed(cfg.Seed),
		searcher.WithProxy(proxy),
		searcher.WithSimulationPolicy(policy),
		searcher.WithRecorder(newRecorder(mission.Name, writer)),
		searcher.WithMetrics(collector),
	)
	if err != nil {
		return Summary{}, err
	}

	result, err := mcts.Search(ctx)
	summary := Summary{Dir: writer.Dir(), Result: result}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return summary, err
	}

	// An interrupted search still saves what it found
	var records []metrics.NodeRecord
	mcts.Walk(func(stats searcher.NodeStats) {
		records = append(records, metrics.NodeRecord{
			Key:        stats.Key,
			Depth:      stats.Depth,
			Visits:     stats.Visits,
			Own:        stats.Own,
			Children:   stats.Children,
			MeanReward: stats.MeanReward,
			Distance:   stats.Distance,
			Simulated:  stats.Simulated,
		})
	})
	if werr := writer.WriteTree(records); werr != nil {
		return summary, werr
	}
	if werr := writer.WriteSummary(result.Metric); werr != nil {
		return summary, werr
	}

	log.Info().Msgf("%d test cases generated in %s", len(result.Failures), writer.Dir())
	return summary, err
}

func newExecutor(cfg config.Config) (searcher.Executor, searcher.Proxy, error) {
	switch cfg.Executor.Kind {
	case config.ExecutorLocal:
		local := engine.NewLocal()
		local.LogDir = cfg.Executor.LogDir
		return local, local, nil
	case config.ExecutorRemote:
		timeout, err := cfg.Timeout()
		if err != nil {
			return nil, nil, err
		}
		return engine.NewRemote(cfg.Executor.URL, timeout), searcher.TrajectoryProxy{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown executor %q", config.ErrInvalidConfig, cfg.Executor.Kind)
	}
}

// recorder saves every failure-inducing scenario as soon as it is found.
type recorder struct {
	mission string
	writer  *metrics.Writer
	count   int
}

func newRecorder(mission string, writer *metrics.Writer) *recorder {
	return &recorder{mission: mission, writer: writer}
}

func (r *recorder) Record(ctx context.Context, test searcher.TestCase) error {
	err := r.writer.WriteTestCase(r.count, metrics.TestCaseRecord{
		Mission:     r.mission,
		Iteration:   test.Iteration,
		Reward:      test.Reward,
		Failed:      test.Outcome.Failed,
		MinDistance: test.Outcome.MinDistance,
		Obstacles:   test.Scenario.Obstacles(),
		LogFile:     test.Outcome.LogFile,
		PlotFile:    test.Outcome.PlotFile,
	})
	if err != nil {
		return err
	}
	log.Info().Msgf("Saved test case %d found at iteration %d", r.count, test.Iteration)
	r.count++
	return nil
}
