// Package processor implements the top-level cooperative control loop of
// spec §4.6: one tick runs rebalance callbacks, rebalance decide/execute,
// invoice backfill/settlement-backfill, and invoice consume, in that order,
// never overlapping with the next tick. It generalizes the teacher's
// strategy-contract CircuitBreaker (specs/001-liquidity-repositioning/
// contracts/strategy_api.go) from a hand-rolled error-rate counter to
// github.com/sony/gobreaker, sourced from the rest of the example pack since
// the teacher itself only stubbed the type.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/queue"
)

// RebalanceEngine is the narrow slice of *rebalance.Engine a tick drives.
type RebalanceEngine interface {
	RunCallbacks(ctx context.Context) error
	DecideAndExecute(ctx context.Context) error
}

// InvoicePipeline is the narrow slice of *invoice.Pipeline a tick drives.
type InvoicePipeline interface {
	Backfill(ctx context.Context) error
	SettlementBackfill(ctx context.Context) error
	Consume(ctx context.Context) error
}

// MetricsPusher is pushed to at the end of every tick; nil is a valid no-op.
type MetricsPusher interface {
	PushTick(success bool, duration time.Duration)
}

// QueueMetricsPusher additionally records queue depth, pushed once per tick
// alongside PushTick when both Metrics and QueueStatus are configured.
type QueueMetricsPusher interface {
	MetricsPusher
	SetQueueDepth(eventType string, state string, depth float64)
	SetDeadLetterSize(size float64)
}

// QueueStatusReader is the narrow slice of *queue.EventQueue the tick needs
// to publish queue-depth metrics.
type QueueStatusReader interface {
	GetQueueStatus(ctx context.Context, types []domain.EventType) (queue.QueueStatus, error)
}

// Config bundles Processor's constructor dependencies.
type Config struct {
	Rebalance  RebalanceEngine
	Invoices   InvoicePipeline
	Metrics    MetricsPusher
	Queue      QueueStatusReader
	EventTypes []domain.EventType
	Log        *zap.SugaredLogger

	// Interval between the end of one tick and the start of the next.
	Interval time.Duration
	// SoftDeadline is logged as a warning when exceeded; the tick still
	// completes (spec §4.6: "a tick that exceeds its soft deadline logs a
	// warning but completes").
	SoftDeadline time.Duration

	// BreakerThreshold is consecutive tick failures before the breaker
	// opens; BreakerWindow resets the failure count after this much time
	// with no failures; BreakerCooldown is how long the breaker stays open
	// before allowing a trial tick through. Mirrors the teacher's
	// CircuitBreakerThreshold/CircuitBreakerWindow.
	BreakerThreshold uint32
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
}

// Processor is the periodic control loop of spec §4.6.
type Processor struct {
	rebalance  RebalanceEngine
	invoices   InvoicePipeline
	metrics    MetricsPusher
	queueStats QueueStatusReader
	eventTypes []domain.EventType
	log        *zap.SugaredLogger
	interval   time.Duration
	deadline   time.Duration
	breaker    *gobreaker.CircuitBreaker
	lastTick   time.Time
}

const (
	defaultInterval     = 30 * time.Second
	defaultSoftDeadline = 20 * time.Second
	defaultThreshold    = 5
	defaultWindow       = 5 * time.Minute
	defaultCooldown     = time.Minute
)

// New builds a Processor.
func New(c Config) *Processor {
	interval := c.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	deadline := c.SoftDeadline
	if deadline <= 0 {
		deadline = defaultSoftDeadline
	}
	threshold := c.BreakerThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	window := c.BreakerWindow
	if window <= 0 {
		window = defaultWindow
	}
	cooldown := c.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	p := &Processor{
		rebalance:  c.Rebalance,
		invoices:   c.Invoices,
		metrics:    c.Metrics,
		queueStats: c.Queue,
		eventTypes: c.EventTypes,
		log:        c.Log,
		interval:   interval,
		deadline:   deadline,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "processor-tick",
		MaxRequests: 1,
		Interval:    window,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warnw("processor circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Run ticks every interval until ctx is cancelled. Ticks never overlap: Run
// waits for one tick to finish before sleeping toward the next.
func (p *Processor) Run(ctx context.Context) {
	for {
		if err := p.Tick(ctx); err != nil {
			p.log.Warnw("tick failed or skipped by open circuit breaker", "error", err)
		}

		select {
		case <-ctx.Done():
			p.log.Infow("processor stopping, context cancelled")
			return
		case <-time.After(p.interval):
		}
	}
}

// Tick runs one full pass: rebalance callbacks, rebalance decide/execute,
// invoice backfill/settlement-backfill, invoice consume, then pushes
// metrics. Tick-level failures accumulate in the circuit breaker; when open,
// Tick returns immediately without doing any work.
func (p *Processor) Tick(ctx context.Context) error {
	requestID := uuid.NewString()
	log := p.log.With("requestId", requestID)
	start := time.Now()

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.runPhases(ctx, log)
	})

	duration := time.Since(start)
	if duration > p.deadline {
		log.Warnw("tick exceeded soft deadline", "duration", duration, "deadline", p.deadline)
	}
	if p.metrics != nil {
		p.metrics.PushTick(err == nil, duration)
	}
	p.pushQueueMetrics(ctx, log)
	p.lastTick = start

	return err
}

// pushQueueMetrics publishes §6's queue-depth surface once per tick. Both
// Queue and a queue-aware Metrics implementation must be configured;
// either being absent makes this a no-op rather than an error, since queue
// metrics are an observability nicety, not part of the tick's correctness.
func (p *Processor) pushQueueMetrics(ctx context.Context, log *zap.SugaredLogger) {
	if p.queueStats == nil {
		return
	}
	qm, ok := p.metrics.(QueueMetricsPusher)
	if !ok {
		return
	}

	status, err := p.queueStats.GetQueueStatus(ctx, p.eventTypes)
	if err != nil {
		log.Warnw("queue status read failed, skipping queue metrics this tick", "error", err)
		return
	}
	for _, t := range p.eventTypes {
		perType, err := p.queueStats.GetQueueStatus(ctx, []domain.EventType{t})
		if err != nil {
			log.Warnw("queue status read failed for event type", "eventType", t, "error", err)
			continue
		}
		qm.SetQueueDepth(fmt.Sprint(t), "pending", float64(perType.PendingCount))
		qm.SetQueueDepth(fmt.Sprint(t), "processing", float64(perType.ProcessingCount))
	}
	qm.SetDeadLetterSize(float64(status.DeadLetterLength))
}

// LastTick reports the start time of the most recently executed tick, the
// "last tick" timestamp of spec §4.6 step 6.
func (p *Processor) LastTick() time.Time { return p.lastTick }

// runPhases drives the tick's three top-level concerns — callback sweep,
// decide/execute, invoice consume — each in its own error boundary: a
// failure in one never prevents the others from running this tick. Every
// phase's error is logged as it happens and joined into a single error for
// the circuit breaker, which only cares whether the tick as a whole was
// clean.
func (p *Processor) runPhases(ctx context.Context, log *zap.SugaredLogger) error {
	var tickErr error

	if err := p.rebalance.RunCallbacks(ctx); err != nil {
		log.Errorw("rebalance callback phase failed", "error", err)
		tickErr = errors.Join(tickErr, fmt.Errorf("rebalance callbacks: %w", err))
	}

	if err := p.rebalance.DecideAndExecute(ctx); err != nil {
		log.Errorw("rebalance decide/execute phase failed", "error", err)
		tickErr = errors.Join(tickErr, fmt.Errorf("rebalance decide/execute: %w", err))
	}

	// Backfill and settlement-backfill are independent hub reads; fanned out
	// concurrently, each phase's own errors already collapsed to warnings
	// internally (spec §4.5: "API errors are warnings — processing
	// continues"), so a failure here only ever means a thrown, unexpected
	// error rather than a routine hub hiccup.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.invoices.Backfill(gctx) })
	g.Go(func() error { return p.invoices.SettlementBackfill(gctx) })
	if err := g.Wait(); err != nil {
		log.Errorw("invoice backfill phase failed", "error", err)
		tickErr = errors.Join(tickErr, fmt.Errorf("invoice backfill: %w", err))
	}

	if err := p.invoices.Consume(ctx); err != nil {
		log.Errorw("invoice consume phase failed", "error", err)
		tickErr = errors.Join(tickErr, fmt.Errorf("invoice consume: %w", err))
	}

	return tickErr
}
