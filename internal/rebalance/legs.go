package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
	"github.com/everclearorg/mark-sub001/internal/logging"
)

// SwapPersistence is the narrow slice of *db.Store the multi-leg driver
// needs for its own SwapOperation rows.
type SwapPersistence interface {
	CreateSwapOperation(ctx context.Context, in db.CreateSwapOperationInput) (domain.SwapOperation, error)
	GetSwapOperations(ctx context.Context, filter db.SwapOperationFilter) ([]domain.SwapOperation, error)
	UpdateSwapOperationStatus(ctx context.Context, id string, status domain.SwapStatus, metadata map[string]any) (domain.SwapOperation, error)
}

// runMultiLegCallback drives one swap_and_bridge operation forward by
// exactly one leg per tick, per spec §4.4.4. Leg 1 (the bridge leg) is
// confirmed at creation time and recorded as the origin transaction; this
// function checks ReadyOnDestination and starts the swap leg only once
// Leg 1 has arrived.
func (e *Engine) runMultiLegCallback(ctx context.Context, op domain.RebalanceOperation, swapPersist SwapPersistence) error {
	if swapPersist == nil {
		return fmt.Errorf("multi-leg operation %s requires swap persistence", op.ID)
	}

	adapter, ok := e.registry.Get(op.Bridge)
	if !ok {
		return fmt.Errorf("bridge adapter %q not registered", op.Bridge)
	}
	if !adapter.SupportsSwap() {
		return fmt.Errorf("adapter %q does not support swap-and-bridge but operation %s requests it", op.Bridge, op.ID)
	}

	legSwapChain := chainKey(op.DestinationChainID)
	if op.HasTxOnChain(legSwapChain) {
		return e.runLeg3(ctx, op, adapter, swapPersist)
	}

	swaps, err := swapPersist.GetSwapOperations(ctx, db.SwapOperationFilter{RebalanceOperationID: &op.ID})
	if err != nil {
		return fmt.Errorf("load swap legs for %s: %w", op.ID, err)
	}
	if len(swaps) > 0 {
		return nil // leg 2 already created, let it settle before advancing
	}

	amount, ok := new(big.Int).SetString(op.Amount, 10)
	if !ok {
		return fmt.Errorf("operation %s has unparsable amount %q", op.ID, op.Amount)
	}

	originTx, hasOrigin := op.Transactions[chainKey(op.OriginChainID)]
	if !hasOrigin {
		return fmt.Errorf("operation %s has no recorded origin transaction", op.ID)
	}
	route := bridge.Route{Origin: op.OriginChainID, Destination: op.DestinationChainID, Asset: op.TickerHash}
	originReceipt := bridge.OriginReceipt{ChainID: op.OriginChainID, TransactionHash: originTx.TransactionHash}
	ready, err := adapter.ReadyOnDestination(ctx, amount, route, originReceipt)
	if err != nil {
		if errors.Is(err, errs.ErrAdapterFailure) {
			return e.transitionOperation(ctx, op, domain.RebalanceCancelled, domain.EarmarkCancelled, "reason", "adapter reported definitive failure on readyOnDestination for leg 1")
		}
		return fmt.Errorf("readyOnDestination for leg 1 of %s: %w", op.ID, err)
	}
	if !ready {
		return nil // leg 1 hasn't arrived yet
	}
	sender := e.resolver.ResolvedOwner(op.DestinationChainID)
	recipient := sender

	result, err := adapter.ExecuteSwap(ctx, sender, recipient, amount, route)
	if err != nil {
		if errors.Is(err, errs.ErrAdapterFailure) {
			return e.transitionOperation(ctx, op, domain.RebalanceCancelled, domain.EarmarkCancelled, "reason", "adapter reported definitive failure on executeSwap")
		}
		return fmt.Errorf("execute swap leg for %s: %w", op.ID, err)
	}

	swapID := e.newID()
	_, err = swapPersist.CreateSwapOperation(ctx, db.CreateSwapOperationInput{
		ID:                   swapID,
		RebalanceOperationID: op.ID,
		Platform:             op.Bridge,
		FromAsset:            op.TickerHash,
		ToAsset:              route.SwapOutputAsset,
		FromAmount:           result.ExecutedSellAmount.String(),
		ToAmount:             result.ExecutedBuyAmount.String(),
		ExpectedRate:         "",
		QuoteID:              nil,
	})
	if err != nil {
		return fmt.Errorf("persist swap leg for %s: %w", op.ID, err)
	}

	orderID := result.OrderUID
	_, err = swapPersist.UpdateSwapOperationStatus(ctx, swapID, domain.SwapProcessing, map[string]any{"orderId": orderID})
	if err != nil {
		return fmt.Errorf("record swap order id for %s: %w", op.ID, err)
	}

	logging.Transition(e.log, "swapOperation", swapID, string(domain.SwapPendingDeposit), string(domain.SwapProcessing), "rebalanceOperationId", op.ID, "orderId", orderID)
	return nil
}

// runLeg3 runs once txHashes[destinationChainId] is present: it marks every
// swap leg completed and transitions the operation to COMPLETED. It submits
// no transaction; no bridge-back leg is sent from the destination chain.
func (e *Engine) runLeg3(ctx context.Context, op domain.RebalanceOperation, adapter bridge.Adapter, swapPersist SwapPersistence) error {
	swaps, err := swapPersist.GetSwapOperations(ctx, db.SwapOperationFilter{RebalanceOperationID: &op.ID})
	if err != nil {
		return fmt.Errorf("load swap legs for %s: %w", op.ID, err)
	}
	for _, sw := range swaps {
		if sw.Status != domain.SwapCompleted {
			_, err := swapPersist.UpdateSwapOperationStatus(ctx, sw.ID, domain.SwapCompleted, nil)
			if err != nil {
				return fmt.Errorf("complete swap leg %s: %w", sw.ID, err)
			}
			logging.Transition(e.log, "swapOperation", sw.ID, string(sw.Status), string(domain.SwapCompleted))
		}
	}

	if op.Status == domain.RebalanceCompleted {
		return nil
	}
	return e.transitionOperation(ctx, op, domain.RebalanceCompleted, domain.EarmarkReady, "reason", "swap-and-bridge legs complete")
}
