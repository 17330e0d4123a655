package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Clever/log-writer-core/batcher"
	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/queue"
	"github.com/Clever/log-writer-core/retry"
	"github.com/Clever/log-writer-core/stats"
)

// State is one node of the Writer lifecycle of §4.4.
type State int32

const (
	Created State = iota
	Initializing
	Running
	Draining
	Terminated
	InitFailed
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Terminated:
		return "TERMINATED"
	case InitFailed:
		return "INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// defaultPollInterval bounds how long the writer goroutine waits for a
// first message before re-checking for a pending stop() or rotation; it
// is not a spec constant, just the loop's wake-up granularity.
const defaultPollInterval = time.Second

var errNoFormatter = errors.New("writer: EnqueueEvent called without a configured Formatter")

// Config is the common WriterConfig of §3, plus the collaborators wired
// at construction (§6): the facade never creates its own SDK clients, and
// the formatter/substitutions/logger are supplied by the host.
type Config struct {
	Name string

	// BatchDelay is batchDelayMillis from §3. <= 0 activates synchronous
	// mode (§4.4).
	BatchDelay time.Duration
	// Synchronous forces synchronous mode even if BatchDelay > 0.
	Synchronous bool

	DiscardThreshold int32
	DiscardAction    queue.DiscardAction
	TruncateOversize bool
	UseShutdownHook  bool

	// RateLimiter optionally caps outbound Facade.Send calls per second,
	// independent of the destination's own throttling.
	RateLimiter *rate.Limiter

	// Rotation selects the rotation trigger (§4.4). Defaults to
	// NoRotation (explicit rotate() only).
	Rotation RotationPolicy

	Substitutions facade.Substitutions
	Logger        facade.InternalLogger

	// Formatter, if set, lets EnqueueEvent accept a raw framework event
	// and convert it to a Message (§6). Enqueue itself never calls it.
	Formatter facade.MessageFormatter
}

// Writer is the state machine of §4.4: it owns a MessageQueue, a
// ServiceFacade, and (in async mode) a single background goroutine.
type Writer struct {
	name       string
	instanceID string

	facade facade.Facade
	queue  *queue.Queue
	stats  *stats.Statistics
	logger facade.InternalLogger

	rateLimiter *rate.Limiter
	rotation    RotationPolicy
	subst       facade.Substitutions
	formatter   facade.MessageFormatter

	batchDelayNanos  atomic.Int64
	truncateOversize bool
	synchronous      bool

	mu    sync.Mutex // initializationLock: guards start/stop/rotate transitions
	state atomic.Int32

	stopped          bool
	shutdownDeadline time.Time

	syncMu sync.Mutex // serializes buildBatch+processBatch in synchronous mode

	rotateRequested atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// New constructs a Writer against f, ready for Start. statistics may be
// nil, in which case a fresh Statistics is allocated.
func New(f facade.Facade, cfg Config, statistics *stats.Statistics) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = facade.NoopLogger{}
	}
	if cfg.Rotation == nil {
		cfg.Rotation = NoRotation{}
	}
	if statistics == nil {
		statistics = stats.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		name:             cfg.Name,
		instanceID:       uuid.NewString(),
		facade:           f,
		queue:            queue.New(cfg.DiscardThreshold, cfg.DiscardAction),
		stats:            statistics,
		logger:           cfg.Logger,
		rateLimiter:      cfg.RateLimiter,
		rotation:         cfg.Rotation,
		subst:            cfg.Substitutions,
		formatter:        cfg.Formatter,
		truncateOversize: cfg.TruncateOversize,
		synchronous:      cfg.Synchronous,
		ctx:              ctx,
		cancel:           cancel,
	}
	w.batchDelayNanos.Store(int64(cfg.BatchDelay))
	w.state.Store(int32(Created))

	if cfg.UseShutdownHook {
		w.installShutdownHook()
	}
	return w
}

// InstanceID is the random correlation ID assigned at construction
// (§ domain stack: google/uuid), so a host running several writers can
// tell them apart. The writer does not add it to its log lines or to its
// statistics.
func (w *Writer) InstanceID() string { return w.instanceID }

// State returns the writer's current lifecycle state.
func (w *Writer) State() State { return State(w.state.Load()) }

func (w *Writer) setState(s State) { w.state.Store(int32(s)) }

func (w *Writer) batchDelay() time.Duration {
	return time.Duration(w.batchDelayNanos.Load())
}

func (w *Writer) synchronousMode() bool {
	return w.synchronous || w.batchDelay() <= 0
}

// SetBatchDelay live-reconfigures the batch assembly window (§6).
func (w *Writer) SetBatchDelay(d time.Duration) { w.batchDelayNanos.Store(int64(d)) }

// SetDiscardThreshold live-reconfigures the queue's discard threshold (§6).
func (w *Writer) SetDiscardThreshold(n int32) { w.queue.SetThreshold(n) }

// SetDiscardAction live-reconfigures the queue's discard policy (§6).
func (w *Writer) SetDiscardAction(a queue.DiscardAction) { w.queue.SetAction(a) }

// Statistics returns a point-in-time snapshot of this writer's counters.
func (w *Writer) Statistics() stats.Snapshot { return w.stats.Snapshot() }

// Start spawns the background goroutine (async mode) or runs
// initialization synchronously (synchronous mode) and transitions
// Created -> Initializing -> {Running, InitFailed}. Calling Start more
// than once has no effect after the first call.
func (w *Writer) Start() {
	w.mu.Lock()
	if w.State() != Created {
		w.mu.Unlock()
		return
	}
	w.setState(Initializing)

	if w.synchronousMode() {
		// initialize takes w.mu itself.
		w.mu.Unlock()
		w.initialize()
		return
	}

	w.doneCh = make(chan struct{})
	go w.run()
	w.mu.Unlock()
}

// initialize calls facade.InitializeDestination and applies the
// Running/InitFailed transition of §4.4.
func (w *Writer) initialize() error {
	if err := w.facade.InitializeDestination(w.ctx); err != nil {
		w.logger.Error("failed to initialize destination", err)
		w.stats.SetLastError(err)
		w.setState(InitFailed)
		// §4.4: "set the queue to {threshold: 0, action: oldest} so
		// subsequent enqueues discard."
		w.queue.SetThreshold(0)
		w.queue.SetAction(queue.DiscardOldest)
		w.discardAll(w.queue.Drain())
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		// Stop() already ran concurrently and set Draining; don't clobber
		// it back to Running.
		return nil
	}
	w.setState(Running)
	return nil
}

// run is the background goroutine body (async mode only).
func (w *Writer) run() {
	defer close(w.doneCh)

	if err := w.initialize(); err != nil {
		return
	}

	for {
		if w.rotateRequested.CompareAndSwap(1, 0) {
			w.doRotate()
		}

		state := w.State()
		if state == Draining {
			if w.queue.IsEmpty() || !time.Now().Before(w.shutdownDeadline) {
				w.finishDraining()
				return
			}
		}

		batch := batcher.BuildBatch(w.queue, w.pollInterval(), w.batchDelay(), w.facade.Limits())
		if len(batch) == 0 {
			if w.rotation.ShouldRotate(time.Now(), 0) {
				w.doRotate()
			}
			continue
		}

		if w.rateLimiter != nil {
			w.rateLimiter.Wait(w.ctx)
		}

		sent := w.processBatch(batch)
		if w.State() == InitFailed {
			return
		}
		if w.rotation.ShouldRotate(time.Now(), sent) {
			w.doRotate()
		}
	}
}

// pollInterval bounds buildBatch's wait for a first message so the loop
// periodically re-checks for a pending stop() or rotation. During
// Draining it never waits past shutdownDeadline.
func (w *Writer) pollInterval() time.Duration {
	if w.State() == Draining {
		remaining := time.Until(w.shutdownDeadline)
		if remaining < defaultPollInterval {
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return defaultPollInterval
}

func (w *Writer) finishDraining() {
	remaining := w.queue.Size()
	if remaining > 0 {
		w.stats.AddRequeued(int64(remaining))
		w.stats.SetLastError(fmt.Errorf("shutdown with %d messages pending", remaining))
	}
	w.setState(Terminated)
}

func (w *Writer) discardAll(msgs []message.Message) {
	if len(msgs) > 0 {
		w.stats.AddDiscarded(int64(len(msgs)))
	}
}

// Enqueue is the inbound, non-blocking (async mode) entrypoint of §6. In
// synchronous mode it also performs an immediate buildBatch+processBatch
// on the caller's goroutine before returning.
func (w *Writer) Enqueue(msg message.Message) (discarded bool) {
	switch w.State() {
	case InitFailed, Terminated:
		w.stats.AddDiscarded(1)
		return true
	}

	limits := w.facade.Limits()
	if msg.ByteLength() > limits.MaxMessageBytes {
		if w.truncateOversize {
			msg = msg.Truncate(limits.MaxMessageBytes)
		} else {
			w.logger.Warn("dropping oversize message")
			w.stats.AddDiscarded(1)
			return true
		}
	}

	discarded = w.queue.Enqueue(msg)
	if discarded {
		w.stats.AddDiscarded(1)
	}

	if w.synchronousMode() && w.State() == Running {
		w.syncMu.Lock()
		defer w.syncMu.Unlock()
		batch := batcher.BuildBatch(w.queue, 0, w.batchDelay(), limits)
		if len(batch) > 0 {
			sent := w.processBatch(batch)
			if w.rotation.ShouldRotate(time.Now(), sent) {
				w.doRotate()
			}
		}
	}
	return discarded
}

// EnqueueEvent is the raw-event entrypoint of §6: it calls Formatter.
// Format(event) and hands the result to Enqueue. If Format fails, or no
// Formatter was configured, the event is dropped and counted as
// discarded (§7: "Formatter failure | Drop message | yes (counter) |
// error").
func (w *Writer) EnqueueEvent(event any) (discarded bool) {
	if w.formatter == nil {
		w.logger.Error("no formatter configured, dropping event", errNoFormatter)
		w.stats.AddDiscarded(1)
		return true
	}
	msg, err := w.formatter.Format(event)
	if err != nil {
		w.logger.Error("failed to format event, dropping", err)
		w.stats.AddDiscarded(1)
		return true
	}
	return w.Enqueue(msg)
}

// processBatch is the contract of §4.4: send batch through a retry
// manager, fan the per-message outcomes back into the queue and
// statistics, and return the number of messages actually sent.
func (w *Writer) processBatch(batch []message.Message) int {
	if len(batch) == 0 {
		return 0
	}
	w.stats.IncrementBatchCount()

	deadline := time.Now().Add(facade.SendDeadline(w.batchDelay()))
	mgr := retry.New(50*time.Millisecond, retry.Exponential, false)

	var lastAttempt int
	var permanentFailure bool

	op := func(attempt int) ([]facade.Outcome, bool, error) {
		lastAttempt = attempt
		outcomes, err := w.facade.Send(w.ctx, batch)
		if err != nil {
			return nil, false, err
		}
		return outcomes, true, nil
	}

	onException := func(err error) bool {
		var fe *facade.Error
		if errors.As(err, &fe) {
			switch fe.Kind {
			case facade.InvalidConfiguration:
				w.logger.Error("invalid configuration, entering InitFailed", err)
				w.stats.SetLastError(err)
				w.setState(InitFailed)
				w.queue.SetThreshold(0)
				w.queue.SetAction(queue.DiscardOldest)
				permanentFailure = true
				return false
			case facade.Aborted:
				w.logger.Warn("send aborted, retrying once")
				return lastAttempt < 1
			case facade.Throttling:
				w.logger.Warn("throttled sending batch")
				return true
			default:
				w.logger.Warn("send failed, retrying")
				return true
			}
		}
		w.logger.Error("unexpected send error", err)
		return true
	}

	outcomes, succeeded, err := retry.Invoke(w.ctx, mgr, deadline, op, onException)

	if err != nil || !succeeded {
		if permanentFailure {
			w.stats.AddDiscarded(int64(len(batch)))
			return 0
		}
		if err != nil {
			w.stats.SetLastError(err)
		}
		w.queue.RequeueAll(batch)
		w.stats.AddRequeued(int64(len(batch)))
		return 0
	}

	sentCount := 0
	var retryMsgs []message.Message
	for i, outcome := range outcomes {
		switch outcome {
		case facade.Sent:
			sentCount++
		case facade.Fail:
			w.stats.AddDiscarded(1)
		case facade.Retry:
			retryMsgs = append(retryMsgs, batch[i])
		}
	}
	w.stats.AddSent(int64(sentCount))
	if len(retryMsgs) > 0 {
		w.queue.RequeueAll(retryMsgs)
		w.stats.AddRequeued(int64(len(retryMsgs)))
	}
	return sentCount
}

// Rotate requests an explicit rotation (§6). It is a no-op if the facade
// does not implement Rotatable or no Substitutions collaborator was
// supplied; the topic variant's Rotate itself does nothing. In async mode the rotation happens on the
// writer goroutine at the top of its next loop iteration, keeping the
// facade exclusive to that thread; in synchronous mode it runs inline.
func (w *Writer) Rotate() {
	if w.synchronousMode() {
		w.syncMu.Lock()
		defer w.syncMu.Unlock()
		w.doRotate()
		return
	}
	w.rotateRequested.Store(1)
}

func (w *Writer) doRotate() {
	rotatable, ok := w.facade.(facade.Rotatable)
	if !ok || w.subst == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := rotatable.Rotate(w.ctx, w.subst); err != nil {
		w.logger.Error("rotation failed", err)
		w.stats.SetLastError(err)
		return
	}
	w.rotation.Reset(time.Now())
}

// Stop initiates shutdown (§4.4/§5). It is idempotent: calls after the
// first are no-ops. It sets shutdownDeadline = now + batchDelay,
// transitions to Draining, and arranges for the writer's context to be
// cancelled if the deadline elapses before the loop notices, so an
// overrunning in-flight send is interrupted within one round-trip.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case Terminated, InitFailed:
		return
	case Created:
		w.setState(Terminated)
		return
	}
	if w.stopped {
		return
	}
	w.stopped = true

	w.shutdownDeadline = time.Now().Add(w.batchDelay())
	time.AfterFunc(time.Until(w.shutdownDeadline), w.cancel)
	w.setState(Draining)
	// Interrupt any dequeue wait the background goroutine is currently
	// blocked in, so it notices Draining without waiting out a long
	// batchDelay (§4.4/§5: "interrupt any pending dequeue wait").
	w.queue.Interrupt()

	if w.synchronousMode() {
		w.finishDraining()
	}
}

// Wait blocks until the background goroutine (async mode) has fully
// terminated. It returns immediately in synchronous mode or if Start was
// never called.
func (w *Writer) Wait() {
	if w.doneCh != nil {
		<-w.doneCh
	}
}

func (w *Writer) installShutdownHook() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		w.Stop()
	}()
}
