package rebalance

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
	"github.com/everclearorg/mark-sub001/internal/logging"
)

type fakeSwapPersistence struct {
	swaps map[string][]domain.SwapOperation
}

func newFakeSwapPersistence() *fakeSwapPersistence {
	return &fakeSwapPersistence{swaps: map[string][]domain.SwapOperation{}}
}

func (f *fakeSwapPersistence) CreateSwapOperation(ctx context.Context, in db.CreateSwapOperationInput) (domain.SwapOperation, error) {
	sw := domain.SwapOperation{ID: in.ID, RebalanceOperationID: in.RebalanceOperationID, Status: domain.SwapPendingDeposit}
	f.swaps[in.RebalanceOperationID] = append(f.swaps[in.RebalanceOperationID], sw)
	return sw, nil
}

func (f *fakeSwapPersistence) GetSwapOperations(ctx context.Context, filter db.SwapOperationFilter) ([]domain.SwapOperation, error) {
	if filter.RebalanceOperationID == nil {
		return nil, nil
	}
	return f.swaps[*filter.RebalanceOperationID], nil
}

func (f *fakeSwapPersistence) UpdateSwapOperationStatus(ctx context.Context, id string, status domain.SwapStatus, metadata map[string]any) (domain.SwapOperation, error) {
	for opID, swaps := range f.swaps {
		for i, sw := range swaps {
			if sw.ID == id {
				sw.Status = status
				f.swaps[opID][i] = sw
				return sw, nil
			}
		}
	}
	return domain.SwapOperation{}, fmt.Errorf("swap %s not found", id)
}

// multiLegAdapter is a bridge.Adapter stub whose ReadyOnDestination and
// ExecuteSwap errors are independently configurable, exercising both of
// runMultiLegCallback's adapter-failure branches.
type multiLegAdapter struct {
	readyErr   error
	executeErr error
}

func (a *multiLegAdapter) Type() string { return "across" }
func (a *multiLegAdapter) GetMinimumAmount(ctx context.Context, route bridge.Route) (*big.Int, error) {
	return nil, nil
}
func (a *multiLegAdapter) GetReceivedAmount(ctx context.Context, amount *big.Int, route bridge.Route) (*big.Int, error) {
	return amount, nil
}
func (a *multiLegAdapter) Send(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) ([]bridge.TxEntry, error) {
	return []bridge.TxEntry{{Memo: bridge.MemoRebalance}}, nil
}
func (a *multiLegAdapter) ReadyOnDestination(ctx context.Context, amount *big.Int, route bridge.Route, originReceipt bridge.OriginReceipt) (bool, error) {
	if a.readyErr != nil {
		return false, a.readyErr
	}
	return true, nil
}
func (a *multiLegAdapter) DestinationCallback(ctx context.Context, route bridge.Route, originReceipt bridge.OriginReceipt) (*bridge.TxEntry, error) {
	return nil, nil
}
func (a *multiLegAdapter) SupportsSwap() bool { return true }
func (a *multiLegAdapter) ExecuteSwap(ctx context.Context, sender, recipient string, amount *big.Int, route bridge.Route) (bridge.SwapResult, error) {
	if a.executeErr != nil {
		return bridge.SwapResult{}, a.executeErr
	}
	return bridge.SwapResult{OrderUID: "order-1", ExecutedSellAmount: amount, ExecutedBuyAmount: amount}, nil
}

func multiLegOp(id string, earmarkID *string) domain.RebalanceOperation {
	op := baseOp(id, domain.RebalanceAwaitingCallback, time.Now())
	op.OperationType = domain.OperationSwapAndBridge
	op.EarmarkID = earmarkID
	return op
}

func TestRunCallbacks_MultiLegCancelsOnLeg1AdapterFailure(t *testing.T) {
	earmarkID := "em-leg1"
	store := newFakeStore(multiLegOp("leg-op-1", &earmarkID))
	reg := bridge.NewRegistry()
	reg.Register("across", &multiLegAdapter{readyErr: fmt.Errorf("bridge rejected: %w", errs.ErrAdapterFailure)})

	earmarks := newFakeEarmarkReader()
	eng := NewEngine(EngineConfig{
		Cfg: testConfig(), Store: store, Earmarks: earmarks, Registry: reg, Submitter: fakeSubmitter{},
		Swaps: newFakeSwapPersistence(), Log: logging.Noop(),
	})

	require.NoError(t, eng.RunCallbacks(context.Background()))
	assert.Equal(t, domain.RebalanceCancelled, store.ops["leg-op-1"].Status)
	assert.Equal(t, domain.EarmarkCancelled, earmarks.statuses[earmarkID])
}

func TestRunCallbacks_MultiLegCancelsOnExecuteSwapAdapterFailure(t *testing.T) {
	earmarkID := "em-leg2"
	store := newFakeStore(multiLegOp("leg-op-2", &earmarkID))
	reg := bridge.NewRegistry()
	reg.Register("across", &multiLegAdapter{executeErr: fmt.Errorf("swap venue rejected trade: %w", errs.ErrAdapterFailure)})

	earmarks := newFakeEarmarkReader()
	eng := NewEngine(EngineConfig{
		Cfg: testConfig(), Store: store, Earmarks: earmarks, Registry: reg, Submitter: fakeSubmitter{},
		Swaps: newFakeSwapPersistence(), Resolver: fakeResolver{}, Log: logging.Noop(),
	})

	require.NoError(t, eng.RunCallbacks(context.Background()))
	assert.Equal(t, domain.RebalanceCancelled, store.ops["leg-op-2"].Status)
	assert.Equal(t, domain.EarmarkCancelled, earmarks.statuses[earmarkID])
}

func TestRunCallbacks_MultiLegAdvancesToLeg2WhenLeg1Ready(t *testing.T) {
	store := newFakeStore(multiLegOp("leg-op-3", nil))
	reg := bridge.NewRegistry()
	reg.Register("across", &multiLegAdapter{})

	eng := NewEngine(EngineConfig{
		Cfg: testConfig(), Store: store, Registry: reg, Submitter: fakeSubmitter{},
		Swaps: newFakeSwapPersistence(), Resolver: fakeResolver{}, Log: logging.Noop(),
	})

	require.NoError(t, eng.RunCallbacks(context.Background()))
	assert.Equal(t, domain.RebalanceAwaitingCallback, store.ops["leg-op-3"].Status, "leg 2 runs, completion waits for leg 3")
}
