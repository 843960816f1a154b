// Package metrics provides the prometheus registry plumbing shared by
// every service: a per-service Registry plus a MultiGatherer that lets
// a process expose metrics from several internal components (cache,
// registry, queue client) under one /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry is a prometheus registry that can both register collectors
// and be gathered for exposition.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a fresh, empty registry for one service process.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer aggregates metrics from multiple named sub-gatherers
// under a single Gather call, so a service composed of several
// internal clients (cache, registry, bus) can expose one /metrics
// surface.
type MultiGatherer interface {
	prometheus.Gatherer
	Register(name string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer returns an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	if _, exists := mg.gatherers[name]; exists {
		return errAlreadyRegistered(name)
	}
	mg.gatherers[name] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	var out []*dto.MetricFamily
	for _, g := range mg.gatherers {
		fams, err := g.Gather()
		if err != nil {
			return nil, err
		}
		out = append(out, fams...)
	}
	return out, nil
}

// GatewayMetrics tracks request-level counters for the gateway service.
type GatewayMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	BlocksEnqueued  prometheus.Counter
	CollectWaitSecs prometheus.Histogram
}

// NewGatewayMetrics registers gateway counters under namespace.
func NewGatewayMetrics(namespace string, reg prometheus.Registerer) (*GatewayMetrics, error) {
	m := &GatewayMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of gateway HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Number of blocks served directly from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Number of blocks that required task enqueue.",
		}),
		BlocksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_enqueued_total",
			Help:      "Number of block-compute tasks enqueued.",
		}),
		CollectWaitSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_wait_seconds",
			Help:      "Time spent waiting on the completion collector.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.RequestsTotal, m.CacheHits, m.CacheMisses, m.BlocksEnqueued, m.CollectWaitSecs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WorkerMetrics tracks classifier-worker task counters.
type WorkerMetrics struct {
	TasksConsumed prometheus.Counter
	TasksSkipped  prometheus.Counter
	TasksFailed   prometheus.Counter
	ComputeSecs   prometheus.Histogram
}

// NewWorkerMetrics registers classifier worker counters under namespace.
func NewWorkerMetrics(namespace string, reg prometheus.Registerer) (*WorkerMetrics, error) {
	m := &WorkerMetrics{
		TasksConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_consumed_total", Help: "Tasks pulled off the task queue.",
		}),
		TasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_skipped_total", Help: "Tasks skipped because the block was already cached.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_failed_total", Help: "Tasks abandoned due to a fetch or kernel error.",
		}),
		ComputeSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "compute_seconds", Help: "Time spent computing one block.", Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.TasksConsumed, m.TasksSkipped, m.TasksFailed, m.ComputeSecs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type registrationError string

func errAlreadyRegistered(name string) error { return registrationError(name) }
func (e registrationError) Error() string     { return "metrics: gatherer already registered: " + string(e) }
