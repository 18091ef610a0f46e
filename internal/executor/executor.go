package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quorumbi/quorum/internal/worker"
)

// Status describes how a single worker invocation ended.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Invocation is the recorded outcome of one worker call.
type Invocation struct {
	WorkerID  string        `json:"worker_id"`
	Status    Status        `json:"status"`
	Result    worker.Result `json:"result"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	StartedAt time.Time     `json:"started_at"`
}

// Executor fans a shared payload out to the selected workers concurrently.
// One worker's failure or timeout never blocks its peers, and there is no
// cross-worker cancellation.
type Executor struct {
	registry      *worker.Registry
	semaphore     chan struct{}
	workerTimeout time.Duration
	logger        *log.Logger
}

// New creates an executor with bounded concurrency.
func New(registry *worker.Registry, maxConcurrent int, workerTimeout time.Duration) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Executor{
		registry:      registry,
		semaphore:     make(chan struct{}, maxConcurrent),
		workerTimeout: workerTimeout,
		logger:        log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute runs every selected worker and aggregates outcomes by worker id.
// The returned map always holds one entry per requested id, regardless of
// completion order.
func (e *Executor) Execute(ctx context.Context, ids []string, input worker.Input) map[string]Invocation {
	results := make(map[string]Invocation, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			inv := e.invoke(ctx, workerID, input)
			mu.Lock()
			results[workerID] = inv
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}

func (e *Executor) invoke(ctx context.Context, workerID string, input worker.Input) Invocation {
	inv := Invocation{WorkerID: workerID, Status: StatusPending, StartedAt: time.Now()}

	w, ok := e.registry.Get(workerID)
	if !ok {
		inv.Status = StatusFailed
		inv.Error = fmt.Sprintf("worker %s not registered", workerID)
		return inv
	}

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		// Timeout is reserved for deadline expiry; a cancelled request that
		// never ran this worker is a plain failure.
		if ctx.Err() == context.DeadlineExceeded {
			inv.Status = StatusTimeout
		} else {
			inv.Status = StatusFailed
		}
		inv.Error = ctx.Err().Error()
		inv.Latency = time.Since(inv.StartedAt)
		return inv
	}

	workerCtx := ctx
	cancel := func() {}
	if e.workerTimeout > 0 {
		workerCtx, cancel = context.WithTimeout(ctx, e.workerTimeout)
	}
	defer cancel()

	result, err := e.safeInvoke(workerCtx, w, input)
	inv.Latency = time.Since(inv.StartedAt)

	switch {
	case err == nil:
		inv.Status = StatusSuccess
		inv.Result = result
	case workerCtx.Err() == context.DeadlineExceeded:
		inv.Status = StatusTimeout
		inv.Error = err.Error()
		e.logger.Printf("worker %s timed out after %v", workerID, inv.Latency)
	default:
		inv.Status = StatusFailed
		inv.Error = err.Error()
		e.logger.Printf("worker %s failed: %v", workerID, err)
	}
	return inv
}

// safeInvoke shields the batch from a panicking worker implementation.
func (e *Executor) safeInvoke(ctx context.Context, w worker.Worker, input worker.Input) (result worker.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return w.Invoke(ctx, input)
}
