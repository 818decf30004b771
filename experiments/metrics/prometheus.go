package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exports search statistics to Prometheus while keeping
// the totals needed for Complete.
type PrometheusCollector struct {
	Collector
	gatherer prometheus.Gatherer

	Iterations       prometheus.Counter
	Simulations      prometheus.Counter
	SimulationTime   prometheus.Histogram
	ProxyEvaluations prometheus.Counter
	SimulationErrors prometheus.Counter
	SamplingFailures prometheus.Counter
	Failures         prometheus.Counter
	Nodes            *prometheus.CounterVec
	Rewards          prometheus.Histogram
	BestReward       prometheus.Gauge
	Budget           prometheus.Gauge
}

// NewPrometheusCollector registers the search metrics against reg, defaulting
// to the global registry when nil.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &PrometheusCollector{Collector: NewCollector(), gatherer: gatherer}
	var err error

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Iterations, "palm_iterations_total", "Completed search iterations."},
		{&c.Simulations, "palm_simulations_total", "Full simulator runs."},
		{&c.ProxyEvaluations, "palm_proxy_evaluations_total", "Scenarios evaluated with the proxy instead of the simulator."},
		{&c.SimulationErrors, "palm_simulation_errors_total", "Simulator runs that failed and were given the penalty reward."},
		{&c.SamplingFailures, "palm_sampling_failures_total", "Expansions where no valid obstacle could be sampled."},
		{&c.Failures, "palm_failures_total", "Distinct failure-inducing scenarios found."},
	}
	for _, counter := range counters {
		*counter.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: counter.name,
			Help: counter.help,
		}), counter.name)
		if err != nil {
			return nil, err
		}
	}

	c.Nodes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "palm_nodes_total",
		Help: "Tree nodes created, labeled by depth.",
	}, []string{"depth"}), "palm_nodes_total")
	if err != nil {
		return nil, err
	}

	c.SimulationTime, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "palm_simulation_duration_seconds",
		Help:    "Wall time of one simulator run.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}), "palm_simulation_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.Rewards, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "palm_reward",
		Help:    "Reward backpropagated by each iteration.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}), "palm_reward")
	if err != nil {
		return nil, err
	}

	c.BestReward, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "palm_best_reward",
		Help: "Highest reward observed in the current search.",
	}), "palm_best_reward")
	if err != nil {
		return nil, err
	}

	c.Budget, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "palm_budget",
		Help: "Iteration budget of the current search.",
	}), "palm_budget")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *PrometheusCollector) Start(budget int) {
	c.Collector.Start(budget)
	c.Budget.Set(float64(budget))
	c.BestReward.Set(0)
}

func (c *PrometheusCollector) AddIteration() {
	c.Collector.AddIteration()
	c.Iterations.Inc()
}

func (c *PrometheusCollector) AddSimulation(elapsed time.Duration) {
	c.Collector.AddSimulation(elapsed)
	c.Simulations.Inc()
	c.SimulationTime.Observe(elapsed.Seconds())
}

func (c *PrometheusCollector) AddProxyEvaluation() {
	c.Collector.AddProxyEvaluation()
	c.ProxyEvaluations.Inc()
}

func (c *PrometheusCollector) AddSimulationError() {
	c.Collector.AddSimulationError()
	c.SimulationErrors.Inc()
}

func (c *PrometheusCollector) AddSamplingFailure() {
	c.Collector.AddSamplingFailure()
	c.SamplingFailures.Inc()
}

func (c *PrometheusCollector) AddFailure() {
	c.Collector.AddFailure()
	c.Failures.Inc()
}

func (c *PrometheusCollector) AddNode(depth int) {
	c.Collector.AddNode(depth)
	c.Nodes.WithLabelValues(fmt.Sprint(depth)).Inc()
}

func (c *PrometheusCollector) ObserveReward(reward float64) {
	c.Collector.ObserveReward(reward)
	c.Rewards.Observe(reward)
	c.BestReward.Set(c.Collector.Complete().BestReward)
}

// register returns the already registered collector of the same name and type
// instead of failing, so a process can run several searches.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
