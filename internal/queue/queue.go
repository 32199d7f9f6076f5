// Package queue implements the Operation Queue (spec.md §4.7): every
// write is serialized through a single dispatcher, prioritized into
// high/normal/low FIFO tiers, retried with exponential backoff on
// transient failures, and bounded by a backpressure ceiling. This is the
// hardest concurrency element in the bridge.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/model"
)

// Func is the work a queued operation performs once dispatched. It must
// respect ctx's deadline/cancellation.
type Func func(ctx context.Context) (any, error)

// Request describes one write to enqueue.
type Request struct {
	Kind        model.OperationKind
	Priority    model.Priority
	MaxAttempts int           // 0 uses the queue default
	Timeout     time.Duration // per-attempt timeout, 0 uses the queue default
	MaxWait     time.Duration // enqueue-to-deadline budget, 0 uses the queue default
	Run         Func
}

// op is the queue-internal OperationRecord (spec.md §3).
type op struct {
	id          string
	kind        model.OperationKind
	priority    model.Priority
	maxAttempts int
	attempts    int
	timeout     time.Duration
	enqueuedAt  time.Time
	startedAt   time.Time
	finishedAt  time.Time
	deadline    time.Time
	run         Func

	mu        sync.Mutex
	state     model.OperationState
	canceled  bool
	result    any
	err       error
	done      chan struct{}
	seq       uint64
}

func (o *op) setState(s model.OperationState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *op) isCanceled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canceled
}

// Snapshot is one entry in the queue's recent-history ring and status
// listing.
type Snapshot struct {
	OpID       string
	Kind       model.OperationKind
	State      model.OperationState
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
}

// Status is the queue's status endpoint payload (spec.md §4.7).
type Status struct {
	QueueDepth int
	Running    *Snapshot
	Recent     []Snapshot
}

// Config tunes the queue's defaults; zero-value Request fields fall back
// to these.
type Config struct {
	MaxDepth      int
	MaxAttempts   int
	MaxWait       time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RecentHistory int
}

// Queue is the single-writer dispatcher.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	tiers    [3]*list.List // indexed by model.Priority
	byID     map[string]*op
	depth    int
	seqNext  uint64
	running  *op
	recent   []Snapshot
	stopped  bool
}

// New builds a Queue from cfg. Start must be called to run the dispatcher.
func New(cfg Config) *Queue {
	q := &Queue{
		cfg:  cfg,
		tiers: [3]*list.List{list.New(), list.New(), list.New()},
		byID: make(map[string]*op),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start runs the dispatcher loop until ctx is canceled. Call it once, in a
// goroutine, from process startup.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.stopped = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	for {
		o := q.dequeue()
		if o == nil {
			return // stopped and drained
		}
		q.run(ctx, o)
	}
}

// Submit enqueues req and blocks until the operation reaches a terminal
// state or ctx is canceled, matching the request/response shape every MCP
// tool call needs.
func (q *Queue) Submit(ctx context.Context, req Request) (any, model.OperationState, error) {
	o, err := q.enqueue(req)
	if err != nil {
		return nil, "", err
	}
	select {
	case <-o.done:
		return o.result, o.state, o.err
	case <-ctx.Done():
		o.mu.Lock()
		o.canceled = true
		o.mu.Unlock()
		return nil, model.StateCanceled, errcode.New(errcode.Canceled, "caller canceled before operation completed")
	}
}

func (q *Queue) enqueue(req Request) (*op, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxWait := req.MaxWait
	if maxWait == 0 {
		maxWait = q.cfg.MaxWait
	}

	now := time.Now()
	o := &op{
		id:          fmt.Sprintf("op-%d", now.UnixNano()),
		kind:        req.Kind,
		priority:    req.Priority,
		maxAttempts: maxAttempts,
		timeout:     timeout,
		enqueuedAt:  now,
		deadline:    now.Add(maxWait),
		run:         req.Run,
		state:       model.StatePending,
		done:        make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxDepth > 0 && q.depth >= q.cfg.MaxDepth {
		return nil, errcode.New(errcode.QueueFull, fmt.Sprintf("queue depth %d exceeds max %d", q.depth, q.cfg.MaxDepth))
	}

	o.seq = q.seqNext
	q.seqNext++
	q.tiers[o.priority].PushBack(o)
	q.byID[o.id] = o
	q.depth++
	q.cond.Signal()
	return o, nil
}

// Cancel sets the cancel flag on opID. If it has not started running, the
// dispatcher honors it before the next attempt; a running attempt is not
// preempted (spec.md §5).
func (q *Queue) Cancel(opID string) error {
	q.mu.Lock()
	o, ok := q.byID[opID]
	q.mu.Unlock()
	if !ok {
		return errcode.New(errcode.NotFound, fmt.Sprintf("no such operation %q", opID))
	}
	o.mu.Lock()
	o.canceled = true
	o.mu.Unlock()
	return nil
}

// dequeue blocks until an op is available (by priority then FIFO) or the
// queue is stopped, returning nil in the latter case once drained.
func (q *Queue) dequeue() *op {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := model.PriorityHigh; ; p-- {
			if e := q.tiers[p].Front(); e != nil {
				q.tiers[p].Remove(e)
				q.depth--
				return e.Value.(*op)
			}
			if p == model.PriorityLow {
				break
			}
		}
		if q.stopped {
			return nil
		}
		q.cond.Wait()
	}
}

func (q *Queue) run(ctx context.Context, o *op) {
	if time.Now().After(o.deadline) {
		q.finish(o, nil, errcode.New(errcode.OperationExpired, "operation expired before dispatch"), model.StateExpired)
		return
	}
	if o.isCanceled() {
		q.finish(o, nil, errcode.New(errcode.Canceled, "canceled before dispatch"), model.StateCanceled)
		return
	}

	o.startedAt = time.Now()
	o.setState(model.StateRunning)
	q.mu.Lock()
	q.running = o
	q.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.BackoffBase
	bo.MaxInterval = q.cfg.BackoffCap
	bo.RandomizationFactor = 1.0 // approximates full jitter within [0, 2x]
	bo.Multiplier = 2.0

	var result any
	var err error
	for {
		o.attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		result, err = o.run(attemptCtx)
		cancel()

		if err == nil {
			break
		}
		code := errcode.Of(err)
		if !code.Retryable() || o.attempts >= o.maxAttempts || o.isCanceled() {
			break
		}
		if cap := code.MaxAttemptsCap(); cap > 0 && o.attempts >= cap {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		time.Sleep(wait)
	}

	q.mu.Lock()
	q.running = nil
	q.mu.Unlock()

	o.finishedAt = time.Now()
	state := model.StateSuccess
	if err != nil {
		state = model.StateFailed
	}
	if o.isCanceled() {
		// The running attempt was allowed to complete (spec.md §5); its
		// result is discarded regardless of success or failure.
		result = nil
		err = errcode.New(errcode.Canceled, "canceled while running")
		state = model.StateCanceled
	}
	q.finish(o, result, err, state)
}

func (q *Queue) finish(o *op, result any, err error, state model.OperationState) {
	o.mu.Lock()
	o.result = result
	o.err = err
	o.state = state
	o.mu.Unlock()
	close(o.done)

	outcome := "success"
	if err != nil {
		outcome = err.Error()
	}
	snap := Snapshot{
		OpID: o.id, Kind: o.kind, State: state, Attempts: o.attempts,
		StartedAt: o.startedAt, FinishedAt: o.finishedAt, Outcome: outcome,
	}

	q.mu.Lock()
	delete(q.byID, o.id)
	q.recent = append(q.recent, snap)
	if max := q.cfg.RecentHistory; max > 0 && len(q.recent) > max {
		q.recent = q.recent[len(q.recent)-max:]
	}
	q.mu.Unlock()
}

// Inspect returns the queue's current status for the queue_status
// operation (spec.md §4.7, SPEC_FULL.md supplemented feature).
func (q *Queue) Inspect() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := q.depth
	var running *Snapshot
	if q.running != nil {
		r := q.running
		running = &Snapshot{OpID: r.id, Kind: r.kind, State: model.StateRunning, Attempts: r.attempts, StartedAt: r.startedAt}
	}
	recent := make([]Snapshot, len(q.recent))
	copy(recent, q.recent)
	return Status{QueueDepth: depth, Running: running, Recent: recent}
}
