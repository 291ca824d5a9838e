package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// DefaultEventQueueSize is used when the dispatcher is created with a non-positive size
const DefaultEventQueueSize = 1024

// EventPublisher accepts audit events and alerts without blocking the caller
type EventPublisher interface {
	Publish(event models.SecurityEvent)
	Alert(alertType string, payload map[string]any)
}

// AuditSink persists security events
type AuditSink interface {
	Append(ctx context.Context, event models.SecurityEvent) error
}

// Notifier delivers best-effort alerts to operators
type Notifier interface {
	Notify(ctx context.Context, alertType string, payload map[string]any) error
}

type dispatchItem struct {
	event     *models.SecurityEvent
	alertType string
	payload   map[string]any
}

func (i dispatchItem) kind() string {
	if i.event != nil {
		return i.event.EventType
	}
	return i.alertType
}

// EventDispatcher fans events and alerts out to the audit sink and notifier on a single worker.
// Publish and Alert never block; when the queue is full the item is dropped and logged.
type EventDispatcher struct {
	queue    chan dispatchItem
	sink     AuditSink
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	dropped  atomic.Int64
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewEventDispatcher creates a dispatcher with a bounded queue
func NewEventDispatcher(sink AuditSink, notifier Notifier, queueSize int, logger *slog.Logger) *EventDispatcher {
	if queueSize <= 0 {
		queueSize = DefaultEventQueueSize
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &EventDispatcher{
		queue:    make(chan dispatchItem, queueSize),
		sink:     sink,
		notifier: notifier,
		logger:   logger,
		timeout:  5 * time.Second,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Publish enqueues an audit event
func (d *EventDispatcher) Publish(event models.SecurityEvent) {
	d.enqueue(dispatchItem{event: &event})
}

// Alert enqueues a notifier alert
func (d *EventDispatcher) Alert(alertType string, payload map[string]any) {
	d.enqueue(dispatchItem{alertType: alertType, payload: payload})
}

func (d *EventDispatcher) enqueue(item dispatchItem) {
	select {
	case d.queue <- item:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping item", slog.String("kind", item.kind()))
	}
}

// Dropped returns the number of items dropped because the queue was full
func (d *EventDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Start runs the worker until Stop is called or ctx is cancelled.
// Items still queued at stop time are drained before Start returns.
func (d *EventDispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	defer close(d.done)

	for {
		select {
		case item := <-d.queue:
			d.deliver(ctx, item)
		case <-d.stopCh:
			d.drain(ctx)
			d.logger.Info("event dispatcher stopped")
			return
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info("event dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the worker to drain and exit, and waits for it.
// Without a running worker, Stop delivers the queued items itself.
func (d *EventDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	if d.started.Load() {
		<-d.done
		return
	}
	d.drain(context.Background())
}

func (d *EventDispatcher) drain(ctx context.Context) {
	for {
		select {
		case item := <-d.queue:
			d.deliver(ctx, item)
		default:
			return
		}
	}
}

func (d *EventDispatcher) deliver(ctx context.Context, item dispatchItem) {
	deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while delivering security event",
				slog.String("kind", item.kind()),
				slog.Any("panic", r))
		}
	}()

	if item.event != nil {
		if d.sink == nil {
			return
		}
		if err := d.sink.Append(deliverCtx, *item.event); err != nil {
			d.logger.Error("failed to append security event",
				slog.String("event_type", item.event.EventType),
				slog.Any("error", err))
		}
		return
	}

	if err := d.notifier.Notify(deliverCtx, item.alertType, item.payload); err != nil {
		d.logger.Error("failed to deliver alert",
			slog.String("alert_type", item.alertType),
			slog.Any("error", err))
	}
}

// discardPublisher is used when a service is built without a publisher
type discardPublisher struct{}

func (discardPublisher) Publish(models.SecurityEvent)  {}
func (discardPublisher) Alert(string, map[string]any) {}
