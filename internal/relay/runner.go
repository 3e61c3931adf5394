package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tecbrilho/erika-relay/internal/observability/metrics"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

// ErrRunnerClosed is returned by Go once Shutdown has started.
var ErrRunnerClosed = errors.New("relay: runner is shutting down")

// Runner executes acknowledged deliveries in the background. Each task gets a
// context detached from the request with its own deadline, and a panic in one
// task is logged instead of crashing the process.
type Runner struct {
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.RelayMetrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner whose tasks are bounded by timeout.
func NewRunner(timeout time.Duration, logger *logging.Logger, m *metrics.RelayMetrics) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{timeout: timeout, logger: logger, metrics: m}
}

// Go starts fn in a goroutine. Values carried by parent (trace, request id)
// are kept; its cancellation is not.
func (r *Runner) Go(parent context.Context, name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	r.metrics.TaskStarted()
	go func() {
		defer r.wg.Done()
		defer r.metrics.TaskFinished()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked",
					"task", name,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for in-flight ones until ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay: waiting for background tasks: %w", ctx.Err())
	}
}
