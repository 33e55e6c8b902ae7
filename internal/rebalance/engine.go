// Package rebalance drives the per-operation lifecycle of §4.4: the
// callback phase that reconciles in-flight operations with bridge/
// destination state, and the decide/execute phase that opens new ones
// against configured routes.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/everclearorg/mark-sub001/internal/balance"
	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
	"github.com/everclearorg/mark-sub001/internal/logging"
)

// DefaultTTL is the 24h operation expiry named in spec §3/§4.4.1.
const DefaultTTL = 24 * time.Hour

// Persistence is the subset of *db.Store the engine depends on.
type Persistence interface {
	GetRebalanceOperations(ctx context.Context, filter db.RebalanceOperationFilter) ([]domain.RebalanceOperation, error)
	UpdateRebalanceOperation(ctx context.Context, id string, in db.UpdateRebalanceOperationInput) (domain.RebalanceOperation, error)
	CreateRebalanceOperation(ctx context.Context, in db.CreateRebalanceOperationInput) (domain.RebalanceOperation, error)
}

// SubmissionReceipt is what a TxSubmitter reports back for one submitted
// TxEntry.
type SubmissionReceipt struct {
	TransactionHash string
	From            string
	To              string
	BlockNumber     uint64
	Status          uint64
	Confirmations   int
}

// TxSubmitter executes one bridge.TxEntry on chainID (resolving the Zodiac-
// or EOA-owner, approving when memo=Approval, waiting for confirmation) and
// reports the confirmed receipt. Concrete chain wiring lives in
// internal/chain; this interface keeps the engine testable without RPCs.
type TxSubmitter interface {
	Submit(ctx context.Context, chainID int64, entry bridge.TxEntry) (SubmissionReceipt, error)
}

// BalanceReader is the narrow slice of balance.Svc the decide phase needs.
type BalanceReader interface {
	GetMarkBalancesForTicker(ctx context.Context, ticker string) map[int64]*big.Int
	GetAvailableBalanceLessEarmarks(balance *big.Int, pendingEarmarkMinAmounts []*big.Int) *big.Int
}

// EarmarkReader is the narrow slice of the earmark store the decide phase
// needs to compute earmark-aware availability per §4.8, plus the status
// transition the callback phase cascades onto an earmark when its owning
// RebalanceOperation reaches COMPLETED/CANCELLED/EXPIRED.
type EarmarkReader interface {
	GetActiveEarmarksForChain(ctx context.Context, chain int64) ([]domain.Earmark, error)
	UpdateEarmarkStatus(ctx context.Context, id string, status domain.EarmarkStatus) (domain.Earmark, error)
}

// PauseFlags reports the two independent kill switches of §4.4.2. Both
// default to "not paused" when left nil.
type PauseFlags struct {
	IsRebalancePaused func() bool
	IsPurchasePaused  func() bool // consulted by the invoice pipeline, not this engine; kept here for symmetry
}

// Engine implements the rebalance state machine of spec §4.4.
type Engine struct {
	cfg       *config.Config
	store     Persistence
	earmarks  EarmarkReader
	registry  *bridge.Registry
	submitter TxSubmitter
	balances  BalanceReader
	resolver  AddressResolver
	pause     PauseFlags
	swaps     SwapPersistence
	log       *zap.SugaredLogger
	ttl       time.Duration
	now       func() time.Time
	idGen     func() string
}

// AddressResolver resolves the sender/recipient used on each side of a
// route: the raw signer address, or the configured Safe address when that
// chain routes transactions through a Zodiac role module.
type AddressResolver interface {
	ResolvedOwner(chainID int64) string
}

// EngineConfig bundles Engine's constructor dependencies.
type EngineConfig struct {
	Cfg       *config.Config
	Store     Persistence
	Earmarks  EarmarkReader
	Registry  *bridge.Registry
	Submitter TxSubmitter
	Balances  BalanceReader
	Resolver  AddressResolver
	Pause     PauseFlags
	Swaps     SwapPersistence
	Log       *zap.SugaredLogger
	TTL       time.Duration
	Now       func() time.Time
	IDGen     func() string
}

// NewEngine builds a rebalance Engine.
func NewEngine(c EngineConfig) *Engine {
	ttl := c.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       c.Cfg,
		store:     c.Store,
		earmarks:  c.Earmarks,
		registry:  c.Registry,
		submitter: c.Submitter,
		balances:  c.Balances,
		resolver:  c.Resolver,
		pause:     c.Pause,
		swaps:     c.Swaps,
		log:       c.Log,
		ttl:       ttl,
		now:       now,
		idGen:     c.IDGen,
	}
}

func (e *Engine) isRebalancePaused() bool {
	return e.pause.IsRebalancePaused != nil && e.pause.IsRebalancePaused()
}

// RunCallbacks implements spec §4.4.1: reconcile every PENDING or
// AWAITING_CALLBACK operation against bridge/destination state. Runs
// unconditionally — even when isPurchasePaused or isRebalancePaused is set,
// per §4.4.2's note that callbacks always run.
func (e *Engine) RunCallbacks(ctx context.Context) error {
	ops, err := e.store.GetRebalanceOperations(ctx, db.RebalanceOperationFilter{
		Statuses: []domain.RebalanceStatus{domain.RebalancePending, domain.RebalanceAwaitingCallback},
	})
	if err != nil {
		return fmt.Errorf("load in-flight rebalance operations: %w", err)
	}

	for _, op := range ops {
		if err := e.runOneCallback(ctx, op); err != nil {
			e.log.Warnw("callback reconciliation failed for operation, leaving in place", "operationId", op.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) runOneCallback(ctx context.Context, op domain.RebalanceOperation) error {
	if e.now().Sub(op.CreatedAt) > e.ttl {
		return e.transitionOperation(ctx, op, domain.RebalanceExpired, domain.EarmarkExpired, "reason", "ttl exceeded")
	}

	if op.OperationType == domain.OperationSwapAndBridge {
		return e.runMultiLegCallback(ctx, op, e.swaps)
	}

	adapter, ok := e.registry.Get(op.Bridge)
	if !ok {
		return fmt.Errorf("bridge adapter %q not registered", op.Bridge)
	}

	route := bridge.Route{Origin: op.OriginChainID, Destination: op.DestinationChainID, Asset: op.TickerHash}
	originTx, hasOrigin := op.Transactions[chainKey(op.OriginChainID)]
	if !hasOrigin {
		return fmt.Errorf("operation %s has no recorded origin transaction", op.ID)
	}
	originReceipt := bridge.OriginReceipt{ChainID: op.OriginChainID, TransactionHash: originTx.TransactionHash}

	amount, ok := new(big.Int).SetString(op.Amount, 10)
	if !ok {
		return fmt.Errorf("operation %s has unparsable amount %q", op.ID, op.Amount)
	}

	ready, err := adapter.ReadyOnDestination(ctx, amount, route, originReceipt)
	if err != nil {
		if errors.Is(err, errs.ErrAdapterFailure) {
			return e.transitionOperation(ctx, op, domain.RebalanceCancelled, domain.EarmarkCancelled, "reason", "adapter reported definitive failure on readyOnDestination")
		}
		return fmt.Errorf("readyOnDestination for %s: %w", op.ID, err)
	}
	if !ready {
		return nil // not yet, leave in place
	}

	_, callbackAlready := op.Transactions[chainKey(op.DestinationChainID)]
	if !callbackAlready {
		entry, err := adapter.DestinationCallback(ctx, route, originReceipt)
		if err != nil {
			if errors.Is(err, errs.ErrAdapterFailure) {
				return e.transitionOperation(ctx, op, domain.RebalanceCancelled, domain.EarmarkCancelled, "reason", "adapter reported definitive failure on destinationCallback")
			}
			return fmt.Errorf("destinationCallback for %s: %w", op.ID, err)
		}
		if entry != nil {
			receipt, err := e.submitter.Submit(ctx, op.DestinationChainID, *entry)
			if err != nil {
				if cerr := e.transitionOperation(ctx, op, domain.RebalanceCancelled, domain.EarmarkCancelled, "reason", "destination callback submission failed"); cerr != nil {
					e.log.Warnw("cancel after destination callback submission failure also failed to persist", "operationId", op.ID, "error", cerr)
				}
				return fmt.Errorf("submit destination callback for %s: %w", op.ID, err)
			}
			_, err = e.store.UpdateRebalanceOperation(ctx, op.ID, db.UpdateRebalanceOperationInput{
				TxHashes: map[string]db.TxReceiptInput{
					chainKey(op.DestinationChainID): {
						ChainID:         chainKey(op.DestinationChainID),
						TransactionHash: receipt.TransactionHash,
						From:            receipt.From,
						To:              receipt.To,
						BlockNumber:     receipt.BlockNumber,
						Status:          receipt.Status,
						Confirmations:   receipt.Confirmations,
					},
				},
			})
			if err != nil {
				return fmt.Errorf("record destination callback receipt for %s: %w", op.ID, err)
			}
			return nil // confirm completion on the next pass, after the callback is durably recorded
		}
	}

	return e.transitionOperation(ctx, op, domain.RebalanceCompleted, domain.EarmarkReady)
}

// transitionOperation persists a RebalanceOperation status change, logs the
// transition, and cascades the matching EarmarkStatus onto op's owning
// Earmark (if any) per spec §3's lifecycle: READY once rebalance
// prerequisites are satisfied, CANCELLED/EXPIRED on failure/timeout.
func (e *Engine) transitionOperation(ctx context.Context, op domain.RebalanceOperation, status domain.RebalanceStatus, earmarkStatus domain.EarmarkStatus, extra ...any) error {
	_, err := e.store.UpdateRebalanceOperation(ctx, op.ID, db.UpdateRebalanceOperationInput{Status: &status})
	if err != nil {
		return err
	}
	logging.Transition(e.log, "rebalanceOperation", op.ID, string(op.Status), string(status), extra...)
	e.cascadeEarmarkStatus(ctx, op, earmarkStatus)
	return nil
}

func (e *Engine) cascadeEarmarkStatus(ctx context.Context, op domain.RebalanceOperation, status domain.EarmarkStatus) {
	if op.EarmarkID == nil || e.earmarks == nil {
		return
	}
	em, err := e.earmarks.UpdateEarmarkStatus(ctx, *op.EarmarkID, status)
	if err != nil {
		e.log.Warnw("earmark status cascade failed", "earmarkId", *op.EarmarkID, "operationId", op.ID, "status", status, "error", err)
		return
	}
	logging.Transition(e.log, "earmark", em.ID, "", string(status), "rebalanceOperationId", op.ID)
}

func chainKey(chainID int64) string {
	return fmt.Sprintf("%d", chainID)
}

// DecideAndExecute implements spec §4.4.2: open new rebalances against every
// configured route whose origin balance has drifted past its maximum.
// Skipped entirely when isRebalancePaused() is true; isPurchasePaused()
// has no effect here.
func (e *Engine) DecideAndExecute(ctx context.Context) error {
	if e.isRebalancePaused() {
		e.log.Infow("rebalance decide/execute skipped, rebalance paused")
		return nil
	}

	// Each route's balance read, bridge quote and submission is independent
	// I/O, fanned out per §5's "per-route bridge quotes" concurrency model.
	// A single route's failure is isolated: logged here, never propagated to
	// the group, so one bad route never blocks the rest of the tick.
	g, gctx := errgroup.WithContext(ctx)
	for _, route := range e.cfg.Routes {
		route := route
		g.Go(func() error {
			if err := e.decideOneRoute(gctx, route); err != nil {
				e.log.Warnw("decide/execute failed for route, moving on", "origin", route.Origin, "destination", route.Destination, "asset", route.Asset, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) decideOneRoute(ctx context.Context, route config.Route) error {
	tickerHash, ok := e.cfg.TickerHashFor(route.Origin, route.Asset)
	if !ok {
		return nil // unknown ticker on this chain, skip
	}

	originAsset, decimals, ok := e.assetOnChain(route.Origin, tickerHash)
	if !ok {
		return nil
	}

	hubBalances := e.balances.GetMarkBalancesForTicker(ctx, tickerHash)
	originHub := hubBalances[route.Origin]
	if originHub == nil {
		originHub = big.NewInt(0)
	}

	pendingMinAmounts, err := e.pendingEarmarkMinAmountsHub(ctx, route.Origin, tickerHash)
	if err != nil {
		return fmt.Errorf("load pending earmarks for chain %d: %w", route.Origin, err)
	}
	availableHub := e.balances.GetAvailableBalanceLessEarmarks(originHub, pendingMinAmounts)

	maximum, ok := new(big.Int).SetString(route.Maximum, 10)
	if !ok {
		return fmt.Errorf("route maximum %q is not a parseable integer", route.Maximum)
	}
	if availableHub.Cmp(maximum) <= 0 {
		return nil // within bounds, nothing to do
	}

	reserve := big.NewInt(0)
	if route.Reserve != "" {
		r, ok := new(big.Int).SetString(route.Reserve, 10)
		if ok && r.Sign() > 0 {
			reserve = r
		}
	}
	amountToBridgeHub := new(big.Int).Sub(availableHub, reserve)
	if amountToBridgeHub.Sign() <= 0 {
		return nil
	}
	amountToBridge := balance.FromHub(amountToBridgeHub, decimals)
	if amountToBridge.Sign() <= 0 {
		return nil
	}

	sender := e.resolver.ResolvedOwner(route.Origin)
	recipient := e.resolver.ResolvedOwner(route.Destination)

	brRoute := bridge.Route{Origin: route.Origin, Destination: route.Destination, Asset: tickerHash}
	sel, err := bridge.SelectAndSend(ctx, e.log, e.registry, route.Preferences, route.SlippagesDbps, sender, recipient, amountToBridge, brRoute)
	if err != nil {
		e.log.Warnw("no bridge preference accepted within tolerance for route", "origin", route.Origin, "destination", route.Destination, "asset", originAsset, "error", err)
		return nil
	}

	return e.submitAndRecordRebalance(ctx, route, tickerHash, amountToBridge, recipient, sel)
}

func (e *Engine) submitAndRecordRebalance(ctx context.Context, route config.Route, tickerHash string, amountToBridge *big.Int, recipient string, sel *bridge.Selection) error {
	var originReceipt *SubmissionReceipt
	for _, entry := range sel.Entries {
		receipt, err := e.submitter.Submit(ctx, route.Origin, entry)
		if err != nil {
			return fmt.Errorf("submit %s entry via %s: %w", entry.Memo, sel.Tag, err)
		}
		if entry.Memo == bridge.MemoRebalance {
			originReceipt = &receipt
		}
	}
	if originReceipt == nil {
		return fmt.Errorf("adapter %s produced no Rebalance entry", sel.Tag)
	}

	id := e.newID()
	_, err := e.store.CreateRebalanceOperation(ctx, db.CreateRebalanceOperationInput{
		ID:                 id,
		OriginChainID:      route.Origin,
		DestinationChainID: route.Destination,
		TickerHash:         tickerHash,
		Amount:             amountToBridge.String(),
		SlippageDbps:       sel.SlippageDbps,
		Bridge:             sel.Tag,
		OperationType:      domain.OperationBridge,
		Recipient:          recipient,
		Transactions: []db.TxReceiptInput{{
			ChainID:         chainKey(route.Origin),
			TransactionHash: originReceipt.TransactionHash,
			From:            originReceipt.From,
			To:              originReceipt.To,
			BlockNumber:     originReceipt.BlockNumber,
			Status:          originReceipt.Status,
			Confirmations:   originReceipt.Confirmations,
		}},
	})
	if err != nil {
		return fmt.Errorf("persist rebalance operation: %w", err)
	}
	logging.Transition(e.log, "rebalanceOperation", id, "", string(domain.RebalancePending), "bridge", sel.Tag, "amount", amountToBridge.String())
	return nil
}

func (e *Engine) newID() string {
	if e.idGen != nil {
		return e.idGen()
	}
	return fmt.Sprintf("rb-%d", e.now().UnixNano())
}

func (e *Engine) assetOnChain(chainID int64, tickerHash string) (symbol string, decimals int, ok bool) {
	chain, exists := e.cfg.Chains[chainKey(chainID)]
	if !exists {
		return "", 0, false
	}
	for _, a := range chain.Assets {
		if a.TickerHash == tickerHash {
			return a.Symbol, a.Decimals, true
		}
	}
	return "", 0, false
}

func (e *Engine) pendingEarmarkMinAmountsHub(ctx context.Context, chainID int64, tickerHash string) ([]*big.Int, error) {
	if e.earmarks == nil {
		return nil, nil
	}
	earmarksOnChain, err := e.earmarks.GetActiveEarmarksForChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	_, decimals, ok := e.assetOnChain(chainID, tickerHash)
	if !ok {
		return nil, nil
	}
	var out []*big.Int
	for _, em := range earmarksOnChain {
		if em.TickerHash != tickerHash {
			continue
		}
		amt, ok := new(big.Int).SetString(em.MinAmount, 10)
		if !ok {
			continue
		}
		out = append(out, balance.ToHub(amt, decimals))
	}
	return out, nil
}
