package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/models"
	"threadline/internal/observability"

	"github.com/cenkalti/backoff/v5"
)

// ErrDispatcherStopped is returned by Start after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// DispatcherConfig sizes the fan-out queue and workers.
type DispatcherConfig struct {
	QueueSize     int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	DedupeTTL     time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 24 * time.Hour
	}
	return c
}

// Dispatcher owns the bounded fan-out queue. Events are delivered at most once
// per (event id, recipient id).
type Dispatcher struct {
	cfg       DispatcherConfig
	policy    RecipientPolicy
	transport Transport
	store     Store
	audit     AuditSink
	dedupe    guard.Deduper

	mu      sync.RWMutex
	queue   chan events.Event
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher wires the fan-out outputs. audit and dedupe may be nil; a nil
// dedupe claims in process memory.
func NewDispatcher(cfg DispatcherConfig, policy RecipientPolicy, transport Transport, store Store, audit AuditSink, dedupe guard.Deduper) *Dispatcher {
	cfg = cfg.withDefaults()
	if audit == nil {
		audit = LogSink{}
	}
	if dedupe == nil {
		dedupe = guard.NewMemoryDeduper()
	}
	return &Dispatcher{
		cfg:       cfg,
		policy:    policy,
		transport: transport,
		store:     store,
		audit:     audit,
		dedupe:    dedupe,
		queue:     make(chan events.Event, cfg.QueueSize),
	}
}

// Publish enqueues ev without blocking. It returns false when the queue is
// full or the dispatcher has stopped.
func (d *Dispatcher) Publish(ev events.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		observability.EventsDropped.WithLabelValues("stopped").Inc()
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		observability.EventsDropped.WithLabelValues("queue_full").Inc()
		return false
	}
}

// Start launches the workers. Delivery outlives ctx cancellation until Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.started {
		return nil
	}
	d.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx)
	}
	observability.Logger.Info("fan-out dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)
	return nil
}

// Stop closes the queue and waits for workers to drain it. If ctx expires
// first, in-flight retries are abandoned and ctx.Err() is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]events.Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.dispatchBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, batch []events.Event) {
	defer observability.TrackBatch()()
	fields := map[string]interface{}{"size": len(batch)}
	observability.LogAsyncOperationStart(ctx, "fanout.batch", fields)

	failed := 0
	for _, ev := range batch {
		if err := d.Deliver(ctx, ev); err != nil {
			failed++
			observability.LogAsyncOperationError(ctx, "fanout.event", err, map[string]interface{}{
				"event_id": ev.ID(),
				"kind":     string(ev.Kind()),
			})
		}
	}

	fields["failed"] = failed
	observability.LogAsyncOperationEnd(ctx, "fanout.batch", fields)
}

// Deliver fans one event out synchronously. Errors are returned for logging
// only; the caller's mutation is never affected.
func (d *Dispatcher) Deliver(ctx context.Context, ev events.Event) error {
	ctx = observability.WithCorrelationID(ctx, ev.ID())
	var errs []error

	if err := d.audit.Record(ctx, ev); err != nil {
		observability.AuditFailures.WithLabelValues("audit").Inc()
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("marshal event: %w", err))...)
	}

	subject := ev.Subject()
	kind := string(ev.Kind())
	recipients, alertModerators := d.policy.Recipients(ev)

	if alertModerators {
		if err := d.sendOnce(ctx, ev.ID()+":queue", ModerationQueueGroup, kind, ev.ID(), body); err != nil {
			errs = append(errs, fmt.Errorf("moderation queue: %w", err))
		}
	}

	threadBroadcast, popular := d.policy.ThreadBroadcast(ev), d.policy.Popular(ev)
	if threadBroadcast || popular {
		update, err := json.Marshal(newThreadUpdate(ev))
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("marshal thread update: %w", err))...)
		}
		thread := ThreadGroup(subject.PostID)
		if threadBroadcast {
			if err := d.sendOnce(ctx, ev.ID()+":thread", thread, kind, ev.ID(), update); err != nil {
				errs = append(errs, fmt.Errorf("thread broadcast: %w", err))
			}
		}
		if popular {
			claim := fmt.Sprintf("popular:%d", subject.ID)
			if err := d.sendOnce(ctx, claim, thread, string(events.KindPopular), ev.ID(), update); err != nil {
				errs = append(errs, fmt.Errorf("popular broadcast: %w", err))
			}
		}
	}

	for _, recipientID := range recipients {
		first, err := d.dedupe.FirstSeen(ctx, fmt.Sprintf("%s:%d", ev.ID(), recipientID), d.cfg.DedupeTTL)
		if err != nil {
			// Without a claim the delivery could repeat, so it is skipped.
			observability.FanoutDeliveries.WithLabelValues("all", "dedupe_error").Inc()
			errs = append(errs, fmt.Errorf("dedupe recipient %d: %w", recipientID, err))
			continue
		}
		if !first {
			observability.FanoutDeliveries.WithLabelValues("all", "duplicate").Inc()
			continue
		}

		msg, err := encodeMessage(kind, ev.ID(), recipientID, body)
		if err == nil {
			err = d.retry(ctx, "realtime", func() error {
				return d.transport.SendToGroup(ctx, UserGroup(recipientID), msg)
			})
		}
		d.count("realtime", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("realtime recipient %d: %w", recipientID, err))
		}

		err = d.retry(ctx, "durable", func() error {
			_, err := d.store.Persist(ctx, recipientID, Payload{
				EventID:   ev.ID(),
				Kind:      kind,
				CommentID: subject.ID,
				PostID:    subject.PostID,
				ActorID:   ev.Actor(),
				Body:      body,
			})
			return err
		})
		d.count("durable", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("durable recipient %d: %w", recipientID, err))
		}
	}
	return errors.Join(errs...)
}

// sendOnce sends payload to group unless claim was already taken.
func (d *Dispatcher) sendOnce(ctx context.Context, claim, group, kind, eventID string, payload []byte) error {
	first, err := d.dedupe.FirstSeen(ctx, claim, d.cfg.DedupeTTL)
	if err != nil {
		return fmt.Errorf("dedupe %s: %w", claim, err)
	}
	if !first {
		observability.FanoutDeliveries.WithLabelValues("group", "duplicate").Inc()
		return nil
	}
	msg, err := encodeMessage(kind, eventID, 0, payload)
	if err != nil {
		return err
	}
	err = d.retry(ctx, "realtime", func() error {
		return d.transport.SendToGroup(ctx, group, msg)
	})
	d.count("group", err)
	return err
}

func (d *Dispatcher) count(channel string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	observability.FanoutDeliveries.WithLabelValues(channel, outcome).Inc()
}

func (d *Dispatcher) retry(ctx context.Context, channel string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInterval
	b.MaxInterval = 20 * d.cfg.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && (models.IsValidation(err) || models.IsNotFound(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.FanoutRetries.WithLabelValues(channel).Inc()
			observability.Logger.WarnContext(ctx, "fan-out delivery retry",
				slog.String("channel", channel),
				slog.Duration("next", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	return err
}
