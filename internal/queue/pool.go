package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

// Handler executes one task. Returning nil acks the task; returning an
// error schedules a retry unless the error is Permanent or attempts ran out.
type Handler func(ctx context.Context, t *Task) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool defaults.
const (
	DefaultWorkers      = 4
	DefaultMaxAttempts  = 5
	DefaultBaseDelay    = 2 * time.Second
	DefaultMaxDelay     = 5 * time.Minute
	defaultPollTimeout  = 2 * time.Second
	defaultPromoteEvery = time.Second
)

// Pool runs N workers pulling from one Queue.
type Pool struct {
	queue       *Queue
	handlers    map[string]Handler
	workers     int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	pollTimeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPool creates a worker pool over q.
func NewPool(q *Queue, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		queue:       q,
		handlers:    make(map[string]Handler),
		workers:     workers,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		pollTimeout: defaultPollTimeout,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handle registers the handler for a task kind.
func (p *Pool) Handle(kind string, h Handler) { p.handlers[kind] = h }

// SetMaxAttempts bounds the executions of a single task.
func (p *Pool) SetMaxAttempts(n int) {
	if n > 0 {
		p.maxAttempts = n
	}
}

// SetBackoff sets the base and cap of the retry delay.
func (p *Pool) SetBackoff(base, max time.Duration) {
	if base > 0 {
		p.baseDelay = base
	}
	if max > 0 {
		p.maxDelay = max
	}
}

// SetPollTimeout sets how long a worker blocks waiting for work.
func (p *Pool) SetPollTimeout(d time.Duration) {
	if d > 0 {
		p.pollTimeout = d
	}
}

// Run starts the workers and the delayed-task promoter and blocks until ctx
// is cancelled and every worker has finished its current task.
func (p *Pool) Run(ctx context.Context) {
	if n, err := p.queue.RecoverProcessing(ctx); err != nil {
		logger.Warn("queue recover failed", "queue", p.queue.name, "error", err)
	} else if n > 0 {
		logger.Info("queue recovered in-flight tasks", "queue", p.queue.name, "count", n)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteLoop(ctx)
	}()
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	logger.Info("queue pool started", "queue", p.queue.name, "workers", p.workers)
	wg.Wait()
	logger.Info("queue pool stopped", "queue", p.queue.name)
}

func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultPromoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := p.queue.PromoteDue(ctx, now); err != nil && ctx.Err() == nil {
				logger.Warn("queue promote failed", "queue", p.queue.name, "error", err)
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		t, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue dequeue failed", "queue", p.queue.name, "worker", id, "error", err)
			time.Sleep(p.pollTimeout)
			continue
		}
		// Finish the task even when shutdown begins mid-execution.
		p.Process(context.WithoutCancel(ctx), t)
	}
}

// Process executes one dequeued task and settles it: ack, retry, or dead-letter.
func (p *Pool) Process(ctx context.Context, t *Task) {
	err := p.execute(ctx, t)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, t); ackErr != nil {
			logger.Error("queue ack failed", "task", t.ID, "kind", t.Kind, "error", ackErr)
		}
		return
	}

	attempt := t.Attempts + 1
	if IsPermanent(err) || attempt >= p.maxAttempts {
		logger.Error("task dead-lettered", "task", t.ID, "kind", t.Kind, "attempt", attempt, "error", err)
		if dlErr := p.queue.DeadLetter(ctx, t, err); dlErr != nil {
			logger.Error("queue dead-letter failed", "task", t.ID, "error", dlErr)
		}
		return
	}

	delay := p.backoff(attempt)
	logger.Warn("task failed, retrying", "task", t.ID, "kind", t.Kind, "attempt", attempt, "delay", delay, "error", err)
	if rErr := p.queue.Retry(ctx, t, delay, err); rErr != nil {
		logger.Error("queue retry failed", "task", t.ID, "error", rErr)
	}
}

func (p *Pool) execute(ctx context.Context, t *Task) (err error) {
	h, ok := p.handlers[t.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", t.Kind))
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked", "task", t.ID, "kind", t.Kind, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}

// backoff returns a full-jitter exponential delay: random(0, min(max, base*2^(attempt-1))).
func (p *Pool) backoff(attempt int) time.Duration {
	exp := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(p.maxDelay) {
		exp = float64(p.maxDelay)
	}
	p.mu.Lock()
	d := time.Duration(p.rng.Int63n(int64(exp) + 1))
	p.mu.Unlock()
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}
