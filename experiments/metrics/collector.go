package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type SearchMetric struct {
	StartTime        time.Time
	Duration         time.Duration
	Budget           int
	Iterations       int
	Simulations      int
	SimulationTime   time.Duration
	ProxyEvaluations int
	SimulationErrors int
	SamplingFailures int
	Failures         int
	Nodes            int
	MaxDepth         int
	BestReward       float64
}

// Collector gathers statistics of one search. Implementations must be safe for
// concurrent use.
type Collector interface {
	Start(budget int)
	AddIteration()
	AddSimulation(elapsed time.Duration)
	AddProxyEvaluation()
	AddSimulationError()
	AddSamplingFailure()
	AddFailure()
	AddNode(depth int)
	ObserveReward(reward float64)
	Complete() SearchMetric
}

type collector struct {
	mu        sync.Mutex
	startTime time.Time
	budget    int
	best      float64
	maxDepth  int

	iterations       atomic.Int32
	simulations      atomic.Int32
	simulationTime   atomic.Int64
	proxyEvaluations atomic.Int32
	simulationErrors atomic.Int32
	samplingFailures atomic.Int32
	failures         atomic.Int32
	nodes            atomic.Int32
}

func NewCollector() Collector {
	return &collector{best: math.Inf(-1)}
}

func (m *collector) Start(budget int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
	m.budget = budget
	m.best = math.Inf(-1)
	m.maxDepth = 0
	m.iterations.Store(0)
	m.simulations.Store(0)
	m.simulationTime.Store(0)
	m.proxyEvaluations.Store(0)
	m.simulationErrors.Store(0)
	m.samplingFailures.Store(0)
	m.failures.Store(0)
	m.nodes.Store(0)
}

func (m *collector) AddIteration() {
	m.iterations.Add(1)
}

func (m *collector) AddSimulation(elapsed time.Duration) {
	m.simulations.Add(1)
	m.simulationTime.Add(int64(elapsed))
}

func (m *collector) AddProxyEvaluation() {
	m.proxyEvaluations.Add(1)
}

func (m *collector) AddSimulationError() {
	m.simulationErrors.Add(1)
}

func (m *collector) AddSamplingFailure() {
	m.samplingFailures.Add(1)
}

func (m *collector) AddFailure() {
	m.failures.Add(1)
}

func (m *collector) AddNode(depth int) {
	m.nodes.Add(1)
	m.mu.Lock()
	m.maxDepth = max(m.maxDepth, depth)
	m.mu.Unlock()
}

func (m *collector) ObserveReward(reward float64) {
	m.mu.Lock()
	m.best = math.Max(m.best, reward)
	m.mu.Unlock()
}

func (m *collector) Complete() SearchMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SearchMetric{
		StartTime:        m.startTime,
		Duration:         time.Since(m.startTime),
		Budget:           m.budget,
		Iterations:       int(m.iterations.Load()),
		Simulations:      int(m.simulations.Load()),
		SimulationTime:   time.Duration(m.simulationTime.Load()),
		ProxyEvaluations: int(m.proxyEvaluations.Load()),
		SimulationErrors: int(m.simulationErrors.Load()),
		SamplingFailures: int(m.samplingFailures.Load()),
		Failures:         int(m.failures.Load()),
		Nodes:            int(m.nodes.Load()),
		MaxDepth:         m.maxDepth,
		BestReward:       m.best,
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(budget int)                    {}
func (m *dummyCollector) AddIteration()                       {}
func (m *dummyCollector) AddSimulation(elapsed time.Duration) {}
func (m *dummyCollector) AddProxyEvaluation()                 {}
func (m *dummyCollector) AddSimulationError()                 {}
func (m *dummyCollector) AddSamplingFailure()                 {}
func (m *dummyCollector) AddFailure()                         {}
func (m *dummyCollector) AddNode(depth int)                   {}
func (m *dummyCollector) ObserveReward(reward float64)        {}
func (m *dummyCollector) Complete() SearchMetric              { return SearchMetric{} }
