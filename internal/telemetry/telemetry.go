package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quorumbi/quorum/config"
)

// Telemetry tracks request outcomes, worker behaviour and spend.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics Metrics

	requestsTotal     *prometheus.CounterVec
	workerFailures    *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	providerFallbacks prometheus.Counter
	costTotal         prometheus.Counter
}

// Metrics holds aggregate counters for the process lifetime.
type Metrics struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     time.Duration

	RequestsByClass   map[string]int64
	WorkerExecutions  map[string]int64
	WorkerFailures    map[string]int64
	RoutingMethods    map[string]int64
	ProviderFallbacks int64

	TotalCost   float64
	TotalTokens int64
}

// RequestEvent records one orchestration request end to end.
type RequestEvent struct {
	ID             string
	QueryHash      string
	Classification string
	RoutingMethod  string
	WorkersUsed    []string
	Success        bool
	Error          string
	CacheHit       bool
	Cost           float64
	TokensUsed     int64
	Latency        time.Duration
}

// WorkerEvent records one worker invocation.
type WorkerEvent struct {
	WorkerID string
	Status   string
	Provider string
	Cost     float64
	Latency  time.Duration
}

// New creates a telemetry instance and registers its Prometheus collectors.
func New(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			RequestsByClass:  make(map[string]int64),
			WorkerExecutions: make(map[string]int64),
			WorkerFailures:   make(map[string]int64),
			RoutingMethods:   make(map[string]int64),
		},
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_requests_total",
			Help: "Orchestration requests by complexity classification and outcome.",
		}, []string{"classification", "outcome"}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_worker_failures_total",
			Help: "Worker invocations that failed or timed out.",
		}, []string{"worker", "status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_cache_hits_total",
			Help: "Requests answered from the synthesis or fast-answer cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_cache_misses_total",
			Help: "Requests that missed the synthesis and fast-answer caches.",
		}),
		providerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_provider_fallbacks_total",
			Help: "Completions retried against the secondary provider.",
		}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_llm_cost_dollars_total",
			Help: "Estimated cumulative provider spend in dollars.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.requestsTotal, t.workerFailures, t.cacheHits, t.cacheMisses, t.providerFallbacks, t.costTotal)
	}
	return t
}

// RecordRequest records a complete orchestration request.
func (t *Telemetry) RecordRequest(event RequestEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	t.metrics.TotalRequests++
	if event.Success {
		t.metrics.SuccessfulRequests++
	} else {
		t.metrics.FailedRequests++
	}
	if t.metrics.TotalRequests == 1 {
		t.metrics.AverageLatency = event.Latency
	} else {
		total := t.metrics.AverageLatency * time.Duration(t.metrics.TotalRequests-1)
		t.metrics.AverageLatency = (total + event.Latency) / time.Duration(t.metrics.TotalRequests)
	}
	t.metrics.RequestsByClass[event.Classification]++
	if event.RoutingMethod != "" {
		t.metrics.RoutingMethods[event.RoutingMethod]++
	}
	// WorkerExecutions is owned by RecordWorkerEvent; counting WorkersUsed
	// here too would double-book every invocation.
	if t.config.CostTracking {
		t.metrics.TotalCost += event.Cost
		t.metrics.TotalTokens += event.TokensUsed
	}
	t.mu.Unlock()

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	t.requestsTotal.WithLabelValues(event.Classification, outcome).Inc()
	if event.CacheHit {
		t.cacheHits.Inc()
	} else {
		t.cacheMisses.Inc()
	}
	t.costTotal.Add(event.Cost)

	t.logger.Printf("request %s: class=%s method=%s workers=%d success=%t cache_hit=%t cost=$%.4f latency=%v",
		event.ID, event.Classification, event.RoutingMethod, len(event.WorkersUsed),
		event.Success, event.CacheHit, event.Cost, event.Latency)
}

// RecordWorkerEvent records a single worker invocation outcome.
func (t *Telemetry) RecordWorkerEvent(event WorkerEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.WorkerExecutions[event.WorkerID]++
	if event.Status != "success" {
		t.metrics.WorkerFailures[event.WorkerID]++
	}
	t.mu.Unlock()

	if event.Status != "success" {
		t.workerFailures.WithLabelValues(event.WorkerID, event.Status).Inc()
	}
}

// RecordProviderFallback counts one retry against the secondary provider.
func (t *Telemetry) RecordProviderFallback() {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.ProviderFallbacks++
	t.mu.Unlock()
	t.providerFallbacks.Inc()
}

// Snapshot returns a copy of the aggregate metrics.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := t.metrics
	m.RequestsByClass = copyMap(t.metrics.RequestsByClass)
	m.WorkerExecutions = copyMap(t.metrics.WorkerExecutions)
	m.WorkerFailures = copyMap(t.metrics.WorkerFailures)
	m.RoutingMethods = copyMap(t.metrics.RoutingMethods)
	return m
}

func copyMap(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
