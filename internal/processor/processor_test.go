package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/logging"
)

type fakeRebalance struct {
	callbacks int
	decide    int
	err       error
}

func (f *fakeRebalance) RunCallbacks(ctx context.Context) error { f.callbacks++; return f.err }
func (f *fakeRebalance) DecideAndExecute(ctx context.Context) error { f.decide++; return nil }

type fakeInvoices struct {
	backfill   int
	settlement int
	consume    int
}

func (f *fakeInvoices) Backfill(ctx context.Context) error           { f.backfill++; return nil }
func (f *fakeInvoices) SettlementBackfill(ctx context.Context) error { f.settlement++; return nil }
func (f *fakeInvoices) Consume(ctx context.Context) error            { f.consume++; return nil }

type fakeMetrics struct {
	ticks   int
	lastOK  bool
}

func (f *fakeMetrics) PushTick(success bool, duration time.Duration) {
	f.ticks++
	f.lastOK = success
}

func TestTick_RunsPhasesInOrderAndPushesMetrics(t *testing.T) {
	reb := &fakeRebalance{}
	inv := &fakeInvoices{}
	metrics := &fakeMetrics{}

	p := New(Config{Rebalance: reb, Invoices: inv, Metrics: metrics, Log: logging.Noop()})

	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, 1, reb.callbacks)
	assert.Equal(t, 1, reb.decide)
	assert.Equal(t, 1, inv.backfill)
	assert.Equal(t, 1, inv.settlement)
	assert.Equal(t, 1, inv.consume)
	assert.Equal(t, 1, metrics.ticks)
	assert.True(t, metrics.lastOK)
	assert.False(t, p.LastTick().IsZero())
}

func TestTick_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reb := &fakeRebalance{err: errors.New("boom")}
	inv := &fakeInvoices{}
	metrics := &fakeMetrics{}

	p := New(Config{
		Rebalance: reb, Invoices: inv, Metrics: metrics, Log: logging.Noop(),
		BreakerThreshold: 2,
	})

	require.Error(t, p.Tick(context.Background()))
	require.Error(t, p.Tick(context.Background()))

	// third tick: breaker is open, runPhases must not execute again
	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, reb.callbacks, "breaker should short-circuit further phase execution once open")
}
