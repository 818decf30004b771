package searcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"palm/experiments/metrics"
	"palm/meta"
	"palm/scenario"
)

// Number of times a duplicate child may be drawn before the expansion is
// treated as exhausted.
const maxDuplicateDraws = 8

type Option func(m *MCTS)

// TestCase is a failure-inducing scenario found by the search.
type TestCase struct {
	Scenario  scenario.State
	Outcome   Outcome
	Iteration int
	Reward    float64
}

// Recorder persists failure-inducing scenarios as they are found.
type Recorder interface {
	Record(ctx context.Context, test TestCase) error
}

// NodeStats is a read-only view of a tree node.
type NodeStats struct {
	Key        string
	State      scenario.State
	Depth      int
	Visits     int
	Own        int
	Children   int
	MeanReward float64
	Distance   float64
	Simulated  bool
}

type Result struct {
	Failures         []TestCase
	Iterations       int
	Simulations      int
	ProxyEvaluations int
	SimulationErrors int
	SamplingFailures int
	Nodes            int
	BestReward       float64
	Best             scenario.State
	// Interrupted is set when the context was cancelled before the budget ran out.
	Interrupted bool
	Metric      metrics.SearchMetric
}

type MCTS struct {
	mission  *scenario.Mission
	executor Executor

	budget          int
	maxObstacles    int
	explorationRate float64
	widening        Widening
	rng             *rand.Rand
	evaluator       Evaluator
	proxy           Proxy
	policy          SimulationPolicy
	recorder        Recorder
	metrics         metrics.Collector
	tracer          trace.Tracer

	root   *node
	result Result
}

func WithBudget(iterations int) Option {
	return func(m *MCTS) {
		m.budget = iterations
	}
}

func WithMaxObstacles(n int) Option {
	return func(m *MCTS) {
		m.maxObstacles = n
	}
}

func WithExplorationRate(rate float64) Option {
	return func(m *MCTS) {
		m.explorationRate = rate
	}
}

func WithWidening(c, alpha float64, cList []float64) Option {
	return func(m *MCTS) {
		m.widening = Widening{C: c, Alpha: alpha, CList: append([]float64(nil), cList...)}
	}
}

// WithRand sets the source of every random decision of the search.
func WithRand(rng *rand.Rand) Option {
	return func(m *MCTS) {
		if rng != nil {
			m.rng = rng
		}
	}
}

func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

func WithEvaluator(evaluator Evaluator) Option {
	return func(m *MCTS) {
		m.evaluator = evaluator
	}
}

func WithProxy(proxy Proxy) Option {
	return func(m *MCTS) {
		if proxy != nil {
			m.proxy = proxy
		}
	}
}

func WithSimulationPolicy(policy SimulationPolicy) Option {
	return func(m *MCTS) {
		m.policy = policy
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(m *MCTS) {
		m.recorder = recorder
	}
}

// WithMetrics collects search statistics into collector, or into a new
// in-memory collector when nil.
func WithMetrics(collector metrics.Collector) Option {
	return func(m *MCTS) {
		if collector == nil {
			collector = metrics.NewCollector()
		}
		m.metrics = collector
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *MCTS) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

func NewMCTS(mission *scenario.Mission, executor Executor, options ...Option) (*MCTS, error) {
	m := &MCTS{ // Default values
		mission:         mission,
		executor:        executor,
		budget:          meta.BUDGET,
		maxObstacles:    meta.MAX_OBSTACLES,
		explorationRate: meta.EXPLORATION_RATE,
		widening:        Widening{C: meta.WIDENING_C, Alpha: meta.WIDENING_ALPHA, CList: meta.WideningCList()},
		rng:             rand.New(rand.NewPCG(meta.SEED, meta.SEED)),
		evaluator:       NewDistanceReward(),
		proxy:           TrajectoryProxy{},
		policy:          SimulateTerminal,
		metrics:         metrics.NewDummyCollector(),
		tracer:          otel.Tracer("palm/searcher"),
	}
	for _, option := range options {
		option(m)
	}

	err := m.validate()
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MCTS) validate() error {
	switch {
	case m.mission == nil:
		return fmt.Errorf("%w: mission is required", ErrConfiguration)
	case m.executor == nil:
		return fmt.Errorf("%w: executor is required", ErrConfiguration)
	case m.evaluator == nil:
		return fmt.Errorf("%w: evaluator is required", ErrConfiguration)
	case m.budget < 0:
		return fmt.Errorf("%w: budget must be non-negative, got %d", ErrConfiguration, m.budget)
	case m.maxObstacles < 1:
		return fmt.Errorf("%w: max obstacles must be at least 1, got %d", ErrConfiguration, m.maxObstacles)
	case m.explorationRate < 0 || math.IsNaN(m.explorationRate) || math.IsInf(m.explorationRate, 0):
		return fmt.Errorf("%w: exploration rate must be non-negative, got %v", ErrConfiguration, m.explorationRate)
	case m.policy != SimulateTerminal && m.policy != SimulateEveryNode:
		return fmt.Errorf("%w: unknown %v", ErrConfiguration, m.policy)
	}

	err := m.widening.Validate(m.maxObstacles)
	if err != nil {
		return err
	}
	if v, ok := m.evaluator.(interface{ Validate() error }); ok {
		err = v.Validate()
		if err != nil {
			return err
		}
	}
	err = m.mission.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Search runs up to budget iterations on a fresh tree. Cancelling ctx stops
// the search between iterations; the partial result is returned together with
// the context error.
func (m *MCTS) Search(ctx context.Context) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "mcts.search", trace.WithAttributes(
		attribute.Int("budget", m.budget),
		attribute.Int("max_obstacles", m.maxObstacles),
		attribute.String("simulation_policy", m.policy.String()),
	))
	defer span.End()

	m.metrics.Start(m.budget)
	m.root = newNode(nil, scenario.Empty(m.maxObstacles), "")
	m.result = Result{Nodes: 1, Best: m.root.state}
	m.metrics.AddNode(0)

	// The root counts as visited once so every later selection has N > 0
	reward := m.estimate(m.root)
	backup(m.root, reward)
	m.result.BestReward = reward
	m.metrics.ObserveReward(reward)

	log.Info().Msgf("Searching %q with budget %d, max obstacles %d", m.mission.Name, m.budget, m.maxObstacles)

	var err error
	for i := 0; i < m.budget; i++ {
		if err = ctx.Err(); err != nil {
			m.result.Interrupted = true
			log.Warn().Msgf("Search interrupted after %d of %d iterations: %v", i, m.budget, err)
			break
		}
		m.iterate(ctx, i)
	}

	m.result.Metric = m.metrics.Complete()
	span.SetAttributes(
		attribute.Int("iterations", m.result.Iterations),
		attribute.Int("failures", len(m.result.Failures)),
		attribute.Float64("best_reward", m.result.BestReward),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	log.Info().Msgf("Search finished: %d iterations, %d simulations, %d failures, best reward %.3f",
		m.result.Iterations, m.result.Simulations, len(m.result.Failures), m.result.BestReward)
	return m.result, err
}

func (m *MCTS) iterate(ctx context.Context, i int) {
	ctx, span := m.tracer.Start(ctx, "mcts.iteration", trace.WithAttributes(attribute.Int("iteration", i)))
	defer span.End()

	defer func() {
		m.result.Iterations++
		m.metrics.AddIteration()
	}()

	leaf, ok := m.selectThenExpand()
	if !ok {
		span.AddEvent("sampling exhausted")
		log.Debug().Int("iteration", i).Int("depth", leaf.depth()).Msg("No child could be sampled, skipping statistics")
		return
	}

	var reward float64
	if m.simulates(leaf) {
		reward = m.simulate(ctx, leaf, i)
	} else {
		reward = m.estimate(leaf)
	}
	backup(leaf, reward)

	m.metrics.ObserveReward(reward)
	if reward > m.result.BestReward {
		m.result.BestReward = reward
		m.result.Best = leaf.state
	}

	span.SetAttributes(attribute.Int("depth", leaf.depth()), attribute.Float64("reward", reward))
	log.Debug().
		Int("iteration", i).
		Int("depth", leaf.depth()).
		Float64("reward", reward).
		Str("scenario", leaf.state.String()).
		Msg("Iteration complete")
}

// selectThenExpand descends from the root until it adds a new child, reaches a
// terminal node, or runs out of children to sample. The flag is false when the
// iteration must not update any statistics.
func (m *MCTS) selectThenExpand() (*node, bool) {
	cur := m.root
	for !cur.isTerminal() {
		if len(cur.children) < m.widening.limit(cur.depth(), cur.visits) {
			child, err := m.expand(cur)
			if err == nil {
				return child, true
			}
			m.result.SamplingFailures++
			m.metrics.AddSamplingFailure()
			log.Debug().Err(err).Int("depth", cur.depth()).Msg("Expansion failed")
			if len(cur.children) == 0 {
				return cur, false
			}
		}
		cur = cur.pickChild(m.explorationRate, m.rng)
	}
	return cur, true
}

func (m *MCTS) expand(parent *node) (*node, error) {
	state, key, err := m.propose(parent)
	if err != nil {
		return nil, err
	}
	child := parent.addChild(state, key)
	m.result.Nodes++
	m.metrics.AddNode(child.depth())
	return child, nil
}

// propose draws the scenario of a new child. A sibling whose flight grazed its
// own last obstacle is varied first; otherwise a new obstacle is appended.
func (m *MCTS) propose(parent *node) (scenario.State, string, error) {
	if sibling := parent.variationSibling(m.rng); sibling != nil {
		o, err := sibling.state.SampleVariation(m.mission, sibling.trajectory(), m.rng)
		if err == nil {
			state, err := sibling.state.WithReplacedLastObstacle(o)
			if _, seen := parent.index[o.Key()]; err == nil && !seen {
				return state, o.Key(), nil
			}
		}
	}

	path := parent.trajectory()
	for range maxDuplicateDraws {
		o, err := parent.state.SampleChildObstacle(m.mission, path, m.rng)
		if err != nil {
			return scenario.State{}, "", err
		}
		if _, seen := parent.index[o.Key()]; seen {
			continue
		}
		state, err := parent.state.WithAppendedObstacle(o)
		if err != nil {
			return scenario.State{}, "", err
		}
		return state, o.Key(), nil
	}
	return scenario.State{}, "", fmt.Errorf("%w: %d duplicate samples in a row", scenario.ErrSamplingExhausted, maxDuplicateDraws)
}

func (m *MCTS) simulates(leaf *node) bool {
	if leaf.depth() == 0 {
		return false
	}
	return leaf.isTerminal() || m.policy == SimulateEveryNode
}

func (m *MCTS) estimate(leaf *node) float64 {
	m.result.ProxyEvaluations++
	m.metrics.AddProxyEvaluation()

	outcome := m.proxy.Estimate(m.mission, leaf.trajectory(), leaf.state)
	outcome.Failed = false
	return m.evaluator.Evaluate(outcome, leaf.state)
}

func (m *MCTS) simulate(ctx context.Context, leaf *node, iteration int) float64 {
	ctx, span := m.tracer.Start(ctx, "mcts.simulate", trace.WithAttributes(
		attribute.Int("depth", leaf.depth()),
		attribute.String("scenario", leaf.state.String()),
	))
	defer span.End()

	start := time.Now()
	outcome, err := run(ctx, m.executor, m.mission, leaf.state)
	m.result.Simulations++
	m.metrics.AddSimulation(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.result.SimulationErrors++
		m.metrics.AddSimulationError()
		log.Warn().Err(err).Int("iteration", iteration).Msgf("Simulation of %s failed, assigning penalty", leaf.state)
		return m.evaluator.Penalty()
	}

	leaf.observe(outcome)
	reward := m.evaluator.Evaluate(outcome, leaf.state)
	span.SetAttributes(attribute.Bool("failed", outcome.Failed), attribute.Float64("min_distance", outcome.MinDistance))

	if outcome.Failed && !leaf.recorded {
		leaf.recorded = true
		m.record(ctx, TestCase{
			Scenario:  leaf.state,
			Outcome:   outcome,
			Iteration: iteration,
			Reward:    reward,
		})
	}
	return reward
}

func (m *MCTS) record(ctx context.Context, test TestCase) {
	m.result.Failures = append(m.result.Failures, test)
	m.metrics.AddFailure()
	log.Info().Msgf("Failure found at iteration %d: %s (min distance %.2f)",
		test.Iteration, test.Scenario, test.Outcome.MinDistance)

	if m.recorder == nil {
		return
	}
	err := m.recorder.Record(ctx, test)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msgf("Failed to record test case of iteration %d", test.Iteration)
	}
}

// Walk calls fn for every node of the last search tree, parents before
// children, siblings in creation order.
func (m *MCTS) Walk(fn func(NodeStats)) {
	if m.root == nil {
		return
	}
	stack := []*node{m.root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(cur.stats())
		for i := len(cur.children) - 1; i >= 0; i-- {
			stack = append(stack, cur.children[i])
		}
	}
}

func (n *node) stats() NodeStats {
	mean := 0.0
	if n.visits > 0 {
		mean = n.rewards / float64(n.visits)
	}
	return NodeStats{
		Key:        n.key,
		State:      n.state,
		Depth:      n.depth(),
		Visits:     n.visits,
		Own:        n.own,
		Children:   len(n.children),
		MeanReward: mean,
		Distance:   n.distance,
		Simulated:  !math.IsNaN(n.distance),
	}
}
