package orchestrator

import (
	"errors"
	"time"
)

// State is the orchestration pipeline position. Transitions are strictly
// forward; Failed is reachable from anywhere.
type State string

const (
	StateStart        State = "start"
	StateClassifying  State = "classifying"
	StateFastAnswer   State = "fast_answer"
	StateRouting      State = "routing"
	StateResearching  State = "researching"
	StateExecuting    State = "executing"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// ErrAllWorkersFailed is returned when every selected worker failed or timed
// out, leaving nothing to synthesize.
var ErrAllWorkersFailed = errors.New("all selected workers failed")

// Options carries per-request knobs.
type Options struct {
	History   []string // prior conversation turns, oldest first
	SkipCache bool     // bypass fast-answer and synthesis cache reads
}

// WorkerOutcome is the per-worker slice of a response, success or not.
type WorkerOutcome struct {
	WorkerID string        `json:"worker_id"`
	Status   string        `json:"status"`
	Text     string        `json:"text,omitempty"`
	Error    string        `json:"error,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Response has the same shape on every path through the pipeline. Fast
// answers simply carry no workers.
type Response struct {
	ID               string                   `json:"id"`
	Query            string                   `json:"query"`
	State            State                    `json:"state"`
	Classification   string                   `json:"classification"`
	RoutingMethod    string                   `json:"routing_method,omitempty"`
	WorkersConsulted []string                 `json:"workers_consulted"`
	ResultText       string                   `json:"result"`
	Citations        []string                 `json:"citations,omitempty"`
	PerWorkerResults map[string]WorkerOutcome `json:"per_worker_results,omitempty"`
	CostEstimate     float64                  `json:"cost_estimate"`
	TokensUsed       int64                    `json:"tokens_used"`
	LatencyMS        int64                    `json:"latency_ms"`
	CacheHit         bool                     `json:"cache_hit"`
}
