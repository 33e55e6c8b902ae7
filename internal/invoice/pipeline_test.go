package invoice

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/logging"
	"github.com/everclearorg/mark-sub001/internal/rebalance"
)

func cfgWithRoute() *config.Config {
	cfg := testCfg()
	cfg.Chains["1"] = config.ChainConfig{Assets: []config.Asset{{Symbol: "USDC", TickerHash: "usdc-hash", Decimals: 6}}}
	cfg.Routes = []config.Route{
		{Origin: 1, Destination: 10, Asset: "USDC", Maximum: "0", SlippagesDbps: []int64{20000}, Preferences: []string{"across"}},
	}
	return cfg
}

type fakeQueue struct {
	pending map[domain.EventType][]domain.QueuedEvent
	acked   []string
	dead    []string
	cursor  string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: map[domain.EventType][]domain.QueuedEvent{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, ev domain.QueuedEvent) (bool, error) {
	q.pending[ev.Type] = append(q.pending[ev.Type], ev)
	return false, nil
}
func (q *fakeQueue) Dequeue(ctx context.Context, t domain.EventType, count int64, now time.Time) ([]domain.QueuedEvent, error) {
	batch := q.pending[t]
	q.pending[t] = nil
	return batch, nil
}
func (q *fakeQueue) Ack(ctx context.Context, ev domain.QueuedEvent) error {
	q.acked = append(q.acked, ev.ID)
	return nil
}
func (q *fakeQueue) DeadLetter(ctx context.Context, ev domain.QueuedEvent, errMsg string) error {
	q.dead = append(q.dead, ev.ID)
	return nil
}
func (q *fakeQueue) GetBackfillCursor(ctx context.Context) (string, error) { return q.cursor, nil }
func (q *fakeQueue) SetBackfillCursor(ctx context.Context, cursor string) error {
	q.cursor = cursor
	return nil
}

type fakeEarmarks struct {
	byInvoice map[string]domain.Earmark
}

func (f *fakeEarmarks) CreateEarmark(ctx context.Context, id, invoiceID string, chain int64, tickerHash, minAmount string) (domain.Earmark, error) {
	em := domain.Earmark{ID: id, InvoiceID: invoiceID, DesignatedPurchaseChain: chain, TickerHash: tickerHash, MinAmount: minAmount, Status: domain.EarmarkPending}
	if f.byInvoice == nil {
		f.byInvoice = map[string]domain.Earmark{}
	}
	f.byInvoice[invoiceID] = em
	return em, nil
}
func (f *fakeEarmarks) GetEarmarkForInvoice(ctx context.Context, invoiceID string) (domain.Earmark, bool, error) {
	em, ok := f.byInvoice[invoiceID]
	return em, ok, nil
}
func (f *fakeEarmarks) ListOutstandingInvoiceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id, em := range f.byInvoice {
		if em.Status == domain.EarmarkPending || em.Status == domain.EarmarkReady {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (f *fakeEarmarks) UpdateEarmarkStatus(ctx context.Context, id string, status domain.EarmarkStatus) (domain.Earmark, error) {
	for invoiceID, em := range f.byInvoice {
		if em.ID == id {
			em.Status = status
			f.byInvoice[invoiceID] = em
			return em, nil
		}
	}
	return domain.Earmark{}, fmt.Errorf("earmark %s not found", id)
}

type fakeRebalanceCreator struct {
	created []db.CreateRebalanceOperationInput
}

func (f *fakeRebalanceCreator) CreateRebalanceOperation(ctx context.Context, in db.CreateRebalanceOperationInput) (domain.RebalanceOperation, error) {
	f.created = append(f.created, in)
	return domain.RebalanceOperation{ID: in.ID}, nil
}

type fakeBalances struct {
	idle map[int64]*big.Int
}

func (f *fakeBalances) GetMarkBalancesForTicker(ctx context.Context, ticker string) map[int64]*big.Int {
	return f.idle
}

type fakeResolver struct{}

func (fakeResolver) ResolvedOwner(chainID int64) string { return "0xmark" }

type fakeDirectSubmitter struct{ calls int }

func (f *fakeDirectSubmitter) SubmitPurchase(ctx context.Context, chainID int64, inv domain.Invoice) (rebalance.SubmissionReceipt, error) {
	f.calls++
	return rebalance.SubmissionReceipt{TransactionHash: "0xpurchase", Status: 1}, nil
}

type fakeLegSubmitter struct{}

func (fakeLegSubmitter) Submit(ctx context.Context, chainID int64, entry bridge.TxEntry) (rebalance.SubmissionReceipt, error) {
	return rebalance.SubmissionReceipt{TransactionHash: "0xorigin", Status: 1}, nil
}

type fakeAdapter struct {
	received *big.Int
}

func (f *fakeAdapter) Type() string { return "across" }
func (f *fakeAdapter) GetMinimumAmount(ctx context.Context, route bridge.Route) (*big.Int, error) {
	return nil, nil
}
func (f *fakeAdapter) GetReceivedAmount(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	return f.received, nil
}
func (f *fakeAdapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.TxEntry, error) {
	return []bridge.TxEntry{{Memo: bridge.MemoRebalance, Method: "send"}}, nil
}
func (f *fakeAdapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route bridge.Route, originReceipt bridge.OriginReceipt) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) DestinationCallback(ctx context.Context, route bridge.Route, originReceipt bridge.OriginReceipt) (*bridge.TxEntry, error) {
	return nil, nil
}
func (f *fakeAdapter) SupportsSwap() bool { return false }
func (f *fakeAdapter) ExecuteSwap(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) (bridge.SwapResult, error) {
	return bridge.SwapResult{}, nil
}

func TestConsume_RejectsInvalidInvoiceAndAcks(t *testing.T) {
	q := newFakeQueue()
	inv := validInvoice()
	inv.Owner = "0xMARK" // InvalidOwner
	q.pending[domain.EventInvoiceCreated] = []domain.QueuedEvent{{ID: inv.ID, Type: domain.EventInvoiceCreated, Data: map[string]any{"invoice": inv}}}

	p := NewPipeline(PipelineConfig{
		Cfg: testCfg(), Queue: q, Earmarks: &fakeEarmarks{}, Resolver: fakeResolver{}, Log: logging.Noop(),
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Contains(t, q.acked, inv.ID)
	assert.Empty(t, q.dead)
}

func TestConsume_PurchasesDirectlyWhenIdleBalanceSuffices(t *testing.T) {
	q := newFakeQueue()
	inv := validInvoice()
	q.pending[domain.EventInvoiceCreated] = []domain.QueuedEvent{{ID: inv.ID, Type: domain.EventInvoiceCreated, Data: map[string]any{"invoice": inv}}}

	submitter := &fakeDirectSubmitter{}
	p := NewPipeline(PipelineConfig{
		Cfg: testCfg(), Queue: q, Earmarks: &fakeEarmarks{}, Resolver: fakeResolver{}, Log: logging.Noop(),
		Balances:  &fakeBalances{idle: map[int64]*big.Int{10: big.NewInt(999_000_000_000_000_000)}},
		Submitter: submitter,
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Equal(t, 1, submitter.calls)
	assert.Contains(t, q.acked, inv.ID)
}

func TestConsume_EarmarksAndRefillsWhenIdleBalanceInsufficient(t *testing.T) {
	q := newFakeQueue()
	inv := validInvoice()
	q.pending[domain.EventInvoiceCreated] = []domain.QueuedEvent{{ID: inv.ID, Type: domain.EventInvoiceCreated, Data: map[string]any{"invoice": inv}}}

	reg := bridge.NewRegistry()
	reg.Register("across", &fakeAdapter{received: big.NewInt(999_000)})

	earmarks := &fakeEarmarks{}
	creator := &fakeRebalanceCreator{}

	p := NewPipeline(PipelineConfig{
		Cfg: cfgWithRoute(), Queue: q, Earmarks: earmarks, Rebalances: creator, Resolver: fakeResolver{}, Log: logging.Noop(),
		Balances:     &fakeBalances{idle: map[int64]*big.Int{10: big.NewInt(0)}},
		Registry:     reg,
		LegSubmitter: fakeLegSubmitter{},
		IDGen:        func() string { return "fixed-id" },
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Contains(t, q.acked, inv.ID)
	assert.Contains(t, earmarks.byInvoice, inv.ID)
	require.Len(t, creator.created, 1)
	assert.Equal(t, "across", creator.created[0].Bridge)
}

func TestConsume_SettledEventCompletesEarmark(t *testing.T) {
	q := newFakeQueue()
	earmarks := &fakeEarmarks{byInvoice: map[string]domain.Earmark{
		"inv-1": {ID: "em-1", InvoiceID: "inv-1", Status: domain.EarmarkReady},
	}}
	q.pending[domain.EventInvoiceSettled] = []domain.QueuedEvent{{ID: "inv-1", Type: domain.EventInvoiceSettled}}

	p := NewPipeline(PipelineConfig{
		Cfg: testCfg(), Queue: q, Earmarks: earmarks, Resolver: fakeResolver{}, Log: logging.Noop(),
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Contains(t, q.acked, "inv-1")
	assert.Equal(t, domain.EarmarkCompleted, earmarks.byInvoice["inv-1"].Status)
}

func TestConsume_SettledEventWithNoEarmarkStillAcks(t *testing.T) {
	q := newFakeQueue()
	q.pending[domain.EventInvoiceSettled] = []domain.QueuedEvent{{ID: "inv-direct", Type: domain.EventInvoiceSettled}}

	p := NewPipeline(PipelineConfig{
		Cfg: testCfg(), Queue: q, Earmarks: &fakeEarmarks{}, Resolver: fakeResolver{}, Log: logging.Noop(),
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Contains(t, q.acked, "inv-direct")
}

func TestConsume_PurchasePausedReenqueuesInvoice(t *testing.T) {
	q := newFakeQueue()
	inv := validInvoice()
	q.pending[domain.EventInvoiceCreated] = []domain.QueuedEvent{{ID: inv.ID, Type: domain.EventInvoiceCreated, Data: map[string]any{"invoice": inv}}}

	p := NewPipeline(PipelineConfig{
		Cfg: testCfg(), Queue: q, Earmarks: &fakeEarmarks{}, Resolver: fakeResolver{}, Log: logging.Noop(),
		IsPurchasePaused: func() bool { return true },
	})

	require.NoError(t, p.Consume(context.Background()))
	assert.Empty(t, q.acked)
	assert.Len(t, q.pending[domain.EventInvoiceCreated], 1, "invoice should be re-queued, not dropped, while purchases are paused")
}
