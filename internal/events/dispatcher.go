package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/common/metrics"
	"whitelist-bot/internal/common/observability"
)

var (
	ErrQueueFull = errors.New("dispatcher lane queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher routes events to handlers by kind. Events are hashed onto a
// fixed number of serial lanes by Event.Lane, so events from one channel
// run in order while different channels run in parallel.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler

	lanes   []chan Event
	logger  logger.Logger
	obs     *observability.Observability
	timeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	wg        sync.WaitGroup
}

// Options configures a Dispatcher.
type Options struct {
	Lanes     int
	QueueSize int
	// HandlerTimeout bounds each handler call. Zero means no bound beyond
	// the Run context.
	HandlerTimeout time.Duration
	Observability  *observability.Observability
}

func NewDispatcher(opts Options, log logger.Logger) *Dispatcher {
	if opts.Lanes <= 0 {
		opts.Lanes = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	lanes := make([]chan Event, opts.Lanes)
	for i := range lanes {
		lanes[i] = make(chan Event, opts.QueueSize)
	}
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		lanes:    lanes,
		logger:   logger.Component(log, "dispatcher"),
		obs:      opts.Observability,
		timeout:  opts.HandlerTimeout,
		stopped:  make(chan struct{}),
	}
}

// Register binds a handler to kind, replacing any previous one.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// Dispatch enqueues ev on its lane without blocking.
func (d *Dispatcher) Dispatch(ev Event) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	idx := d.laneFor(ev.Lane())
	select {
	case d.lanes[idx] <- ev:
		metrics.DispatcherQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.lanes[idx])))
		return nil
	default:
		d.logger.Warn("dropping event, lane full", map[string]interface{}{
			"kind": string(ev.Kind()),
			"lane": idx,
		})
		return ErrQueueFull
	}
}

// Run starts one worker per lane and blocks until ctx is cancelled or Stop
// is called, then waits for in-flight handlers to return.
func (d *Dispatcher) Run(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := range d.lanes {
			d.wg.Add(1)
			go d.work(ctx, i)
		}
	})
	select {
	case <-ctx.Done():
	case <-d.stopped:
	}
	d.wg.Wait()
}

// Stop makes Run return after the current handlers finish. Queued events
// that have not started are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

func (d *Dispatcher) work(ctx context.Context, idx int) {
	defer d.wg.Done()
	lane := d.lanes[idx]
	label := strconv.Itoa(idx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopped:
			return
		case ev := <-lane:
			metrics.DispatcherQueueDepth.WithLabelValues(label).Set(float64(len(lane)))
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	d.mu.RLock()
	h, ok := d.handlers[ev.Kind()]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("no handler registered", map[string]interface{}{"kind": string(ev.Kind())})
		return
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			d.logger.Error("event handler panicked", map[string]interface{}{
				"kind":  string(ev.Kind()),
				"panic": fmt.Sprint(r),
			})
		}
		d.obs.RecordEvent(ctx, string(ev.Kind()), status, time.Since(start))
	}()

	if err := h(ctx, ev); err != nil {
		status = "error"
		d.logger.Warn("event handler failed", map[string]interface{}{
			"kind":  string(ev.Kind()),
			"lane":  ev.Lane(),
			"error": err.Error(),
		})
	}
}

func (d *Dispatcher) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}
