package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/everclearorg/mark-sub001/internal/balance"
	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/logging"
	"github.com/everclearorg/mark-sub001/internal/rebalance"
)

const (
	defaultConsumeBatch = 25
)

// QueueStore is the subset of *queue.EventQueue the pipeline depends on.
type QueueStore interface {
	Enqueue(ctx context.Context, ev domain.QueuedEvent) (bool, error)
	Dequeue(ctx context.Context, t domain.EventType, count int64, now time.Time) ([]domain.QueuedEvent, error)
	Ack(ctx context.Context, ev domain.QueuedEvent) error
	DeadLetter(ctx context.Context, ev domain.QueuedEvent, errMsg string) error
	GetBackfillCursor(ctx context.Context) (string, error)
	SetBackfillCursor(ctx context.Context, cursor string) error
}

// EarmarkStore is the subset of *db.Store the pipeline needs for purchase
// planning.
type EarmarkStore interface {
	CreateEarmark(ctx context.Context, id, invoiceID string, chain int64, tickerHash, minAmount string) (domain.Earmark, error)
	GetEarmarkForInvoice(ctx context.Context, invoiceID string) (domain.Earmark, bool, error)
	ListOutstandingInvoiceIDs(ctx context.Context) ([]string, error)
	UpdateEarmarkStatus(ctx context.Context, id string, status domain.EarmarkStatus) (domain.Earmark, error)
}

// RebalanceCreator is the narrow persistence surface used to open a
// refill operation backing a newly created earmark.
type RebalanceCreator interface {
	CreateRebalanceOperation(ctx context.Context, in db.CreateRebalanceOperationInput) (domain.RebalanceOperation, error)
}

// BalanceReader is the one method of rebalance.BalanceReader the pipeline
// uses, declared narrowly here; rebalance is imported only for its
// SubmissionReceipt and TxSubmitter types.
type BalanceReader interface {
	GetMarkBalancesForTicker(ctx context.Context, ticker string) map[int64]*big.Int
}

// PurchaseSubmitter submits the origin-chain purchase transaction once a
// plan decides to buy an invoice directly off idle balance.
type PurchaseSubmitter interface {
	SubmitPurchase(ctx context.Context, chainID int64, inv domain.Invoice) (rebalance.SubmissionReceipt, error)
}

// AddressResolver resolves the owner address used for InvalidOwner checks
// and as the rebalance recipient on a purchase chain.
type AddressResolver interface {
	ResolvedOwner(chainID int64) string
}

// Pipeline implements spec §4.5.
type Pipeline struct {
	cfg        *config.Config
	hub        *HubClient
	queue      QueueStore
	earmarks   EarmarkStore
	rebalances RebalanceCreator
	balances   BalanceReader
	resolver   AddressResolver
	submitter    PurchaseSubmitter
	legSubmitter rebalance.TxSubmitter
	registry     *bridge.Registry
	log          *zap.SugaredLogger
	now        func() time.Time
	idGen      func() string
	batchSize  int64
	isPurchasePaused func() bool
}

// PipelineConfig bundles Pipeline's constructor dependencies.
type PipelineConfig struct {
	Cfg              *config.Config
	Hub              *HubClient
	Queue            QueueStore
	Earmarks         EarmarkStore
	Rebalances       RebalanceCreator
	Balances         BalanceReader
	Resolver         AddressResolver
	Submitter        PurchaseSubmitter
	LegSubmitter     rebalance.TxSubmitter
	Registry         *bridge.Registry
	Log              *zap.SugaredLogger
	Now              func() time.Time
	IDGen            func() string
	BatchSize        int64
	IsPurchasePaused func() bool
}

// NewPipeline builds an invoice Pipeline.
func NewPipeline(c PipelineConfig) *Pipeline {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	batch := c.BatchSize
	if batch == 0 {
		batch = defaultConsumeBatch
	}
	return &Pipeline{
		cfg: c.Cfg, hub: c.Hub, queue: c.Queue, earmarks: c.Earmarks,
		rebalances: c.Rebalances, balances: c.Balances, resolver: c.Resolver,
		submitter: c.Submitter, legSubmitter: c.LegSubmitter, registry: c.Registry, log: c.Log,
		now: now, idGen: c.IDGen, batchSize: batch, isPurchasePaused: c.IsPurchasePaused,
	}
}

// Backfill implements §4.5 step 1: page the hub from the durable cursor and
// enqueue every invoice on the page. Ids already pending or processing are
// not skipped: Enqueue refreshes their payload and scheduledAt and moves a
// processing id back to pending. Hub errors are warnings.
func (p *Pipeline) Backfill(ctx context.Context) error {
	cursor, err := p.queue.GetBackfillCursor(ctx)
	if err != nil {
		return fmt.Errorf("load backfill cursor: %w", err)
	}

	page, err := p.hub.ListInvoicesSince(ctx, cursor)
	if err != nil {
		p.log.Warnw("invoice backfill request failed, will retry next tick", "error", err)
		return nil
	}

	for _, inv := range page.Invoices {
		_, err := p.queue.Enqueue(ctx, domain.QueuedEvent{
			ID:          inv.ID,
			Type:        domain.EventInvoiceCreated,
			Data:        map[string]any{"invoice": inv},
			Priority:    domain.PriorityNormal,
			MaxRetries:  3,
			ScheduledAt: p.now().UnixMilli(),
		})
		if err != nil {
			p.log.Warnw("failed to enqueue backfilled invoice", "invoiceId", inv.ID, "error", err)
		}
	}

	if page.NextCursor != "" {
		if err := p.queue.SetBackfillCursor(ctx, page.NextCursor); err != nil {
			return fmt.Errorf("persist backfill cursor: %w", err)
		}
	}
	return nil
}

// SettlementBackfill implements §4.5 step 2: re-check every non-terminal
// earmark's invoice against the hub and enqueue a SettlementEnqueued event
// for any that now 404s.
func (p *Pipeline) SettlementBackfill(ctx context.Context) error {
	outstandingInvoiceIDs, err := p.earmarks.ListOutstandingInvoiceIDs(ctx)
	if err != nil {
		return fmt.Errorf("list outstanding invoices: %w", err)
	}

	for _, invoiceID := range outstandingInvoiceIDs {
		_, err := p.hub.GetInvoice(ctx, invoiceID)
		if err == nil {
			continue // still outstanding
		}
		if err == ErrInvoiceNotFound {
			_, enqErr := p.queue.Enqueue(ctx, domain.QueuedEvent{
				ID:          invoiceID,
				Type:        domain.EventInvoiceSettled,
				Data:        map[string]any{"invoiceId": invoiceID},
				Priority:    domain.PriorityHigh,
				MaxRetries:  3,
				ScheduledAt: p.now().UnixMilli(),
			})
			if enqErr != nil {
				p.log.Warnw("failed to enqueue settlement event", "invoiceId", invoiceID, "error", enqErr)
			}
			continue
		}
		p.log.Warnw("settlement re-check failed, will retry next tick", "invoiceId", invoiceID, "error", err)
	}
	return nil
}

// Consume implements §4.5 step 3: dequeue a bounded batch per event type,
// validate, and either ack (reject) or plan-and-submit (accept).
func (p *Pipeline) Consume(ctx context.Context) error {
	for _, t := range []domain.EventType{domain.EventInvoiceCreated, domain.EventInvoiceSettled} {
		events, err := p.queue.Dequeue(ctx, t, p.batchSize, p.now())
		if err != nil {
			return fmt.Errorf("dequeue %s: %w", t, err)
		}
		for _, ev := range events {
			p.consumeOne(ctx, ev)
		}
	}
	return nil
}

func (p *Pipeline) consumeOne(ctx context.Context, ev domain.QueuedEvent) {
	switch ev.Type {
	case domain.EventInvoiceSettled:
		p.completeEarmarkForInvoice(ctx, ev.ID)
		if err := p.queue.Ack(ctx, ev); err != nil {
			p.log.Warnw("ack failed for settlement event", "id", ev.ID, "error", err)
		}
		return
	case domain.EventInvoiceCreated:
		p.consumeInvoiceCreated(ctx, ev)
	default:
		if err := p.queue.Ack(ctx, ev); err != nil {
			p.log.Warnw("ack failed for unhandled event type", "id", ev.ID, "type", ev.Type, "error", err)
		}
	}
}

// completeEarmarkForInvoice resolves invoiceId's earmark (if any) and
// transitions it to COMPLETED, the terminal step of spec §3's lifecycle once
// the hub reports the invoice settled. A missing earmark is routine — the
// invoice may have been purchased directly, off idle balance, with no
// earmark ever created — so it is not logged as an error.
func (p *Pipeline) completeEarmarkForInvoice(ctx context.Context, invoiceID string) {
	em, found, err := p.earmarks.GetEarmarkForInvoice(ctx, invoiceID)
	if err != nil {
		p.log.Warnw("earmark lookup failed for settled invoice", "invoiceId", invoiceID, "error", err)
		return
	}
	if !found || em.Status == domain.EarmarkCompleted {
		return
	}
	if _, err := p.earmarks.UpdateEarmarkStatus(ctx, em.ID, domain.EarmarkCompleted); err != nil {
		p.log.Warnw("failed to complete earmark for settled invoice", "invoiceId", invoiceID, "earmarkId", em.ID, "error", err)
		return
	}
	logging.Transition(p.log, "earmark", em.ID, string(em.Status), string(domain.EarmarkCompleted), "invoiceId", invoiceID)
}

func (p *Pipeline) consumeInvoiceCreated(ctx context.Context, ev domain.QueuedEvent) {
	inv, ok := ev.Data["invoice"].(domain.Invoice)
	if !ok && ev.Data["invoice"] != nil {
		// Events read back from the Redis queue carry the invoice as decoded
		// JSON (map[string]any), not as a domain.Invoice.
		if raw, err := json.Marshal(ev.Data["invoice"]); err == nil {
			ok = json.Unmarshal(raw, &inv) == nil
		}
	}
	if !ok {
		if err := p.queue.Ack(ctx, ev); err != nil {
			p.log.Warnw("ack failed for malformed invoice event", "id", ev.ID, "error", err)
		}
		return
	}

	ownAddress := p.resolver.ResolvedOwner(inv.OriginDomain)
	if reason, ok := Validate(p.cfg, inv, ownAddress, p.now()); !ok {
		p.log.Infow("invoice rejected", "invoiceId", inv.ID, "reason", reason)
		if err := p.queue.Ack(ctx, ev); err != nil {
			p.log.Warnw("ack failed for rejected invoice", "invoiceId", inv.ID, "error", err)
		}
		return
	}

	if p.isPurchasePaused != nil && p.isPurchasePaused() {
		p.log.Infow("purchase planning paused, re-enqueuing invoice for next tick", "invoiceId", inv.ID)
		ev.ScheduledAt = p.now().Add(time.Minute).UnixMilli()
		if _, err := p.queue.Enqueue(ctx, ev); err != nil {
			p.log.Warnw("failed to re-enqueue invoice while purchase paused", "invoiceId", inv.ID, "error", err)
		}
		return
	}

	if err := p.planAndSubmit(ctx, inv); err != nil {
		if deadErr := p.queue.DeadLetter(ctx, ev, err.Error()); deadErr != nil {
			p.log.Errorw("dead-letter failed for invoice", "invoiceId", inv.ID, "originalError", err, "deadLetterError", deadErr)
		}
		return
	}
	if err := p.queue.Ack(ctx, ev); err != nil {
		p.log.Warnw("ack failed after successful purchase plan", "invoiceId", inv.ID, "error", err)
	}
}

// planAndSubmit decides whether to purchase directly off idle balance on
// the designated chain, or to earmark the invoice and open refill
// RebalanceOperations, per §4.5 step 3's acceptance path.
func (p *Pipeline) planAndSubmit(ctx context.Context, inv domain.Invoice) error {
	if existing, found, err := p.earmarks.GetEarmarkForInvoice(ctx, inv.ID); err != nil {
		return fmt.Errorf("check existing earmark for %s: %w", inv.ID, err)
	} else if found {
		p.log.Infow("invoice already earmarked, skipping replan", "invoiceId", inv.ID, "earmarkId", existing.ID)
		return nil
	}

	designatedChain := inv.OriginDomain
	if len(inv.Destinations) > 0 {
		designatedChain = inv.Destinations[0]
	}

	amount, ok := new(big.Int).SetString(inv.Amount, 10)
	if !ok {
		return fmt.Errorf("invoice %s has unparsable amount %q", inv.ID, inv.Amount)
	}

	idleHub := p.idleBalanceOnChain(ctx, designatedChain, inv.TickerHash)
	decimals := p.decimalsFor(designatedChain, inv.TickerHash)
	amountHub := balance.ToHub(amount, decimals)

	if idleHub.Cmp(amountHub) >= 0 {
		recipient := p.resolver.ResolvedOwner(designatedChain)
		receipt, err := p.submitter.SubmitPurchase(ctx, designatedChain, inv)
		if err != nil {
			return fmt.Errorf("submit direct purchase for %s: %w", inv.ID, err)
		}
		logging.Transition(p.log, "invoice", inv.ID, "created", "purchasedDirectly", "chain", designatedChain, "recipient", recipient, "tx", receipt.TransactionHash)
		return nil
	}

	return p.earmarkAndRefill(ctx, inv, designatedChain, amount)
}

func (p *Pipeline) earmarkAndRefill(ctx context.Context, inv domain.Invoice, designatedChain int64, amount *big.Int) error {
	earmarkID := p.newID()
	em, err := p.earmarks.CreateEarmark(ctx, earmarkID, inv.ID, designatedChain, inv.TickerHash, amount.String())
	if err != nil {
		return fmt.Errorf("create earmark for %s: %w", inv.ID, err)
	}
	logging.Transition(p.log, "earmark", em.ID, "", string(domain.EarmarkPending), "invoiceId", inv.ID)

	for _, route := range p.cfg.Routes {
		if route.Destination != designatedChain {
			continue
		}
		tickerHash, ok := p.cfg.TickerHashFor(route.Origin, route.Asset)
		if !ok || tickerHash != inv.TickerHash {
			continue
		}

		sender := p.resolver.ResolvedOwner(route.Origin)
		recipient := p.resolver.ResolvedOwner(route.Destination)
		brRoute := bridge.Route{Origin: route.Origin, Destination: route.Destination, Asset: tickerHash}

		sel, err := bridge.SelectAndSend(ctx, p.log, p.registry, route.Preferences, route.SlippagesDbps, sender, recipient, amount, brRoute)
		if err != nil {
			p.log.Warnw("no bridge preference accepted for earmark refill", "earmarkId", em.ID, "origin", route.Origin, "error", err)
			continue
		}

		var originReceipt *rebalance.SubmissionReceipt
		for _, entry := range sel.Entries {
			receipt, err := p.legSubmitter.Submit(ctx, route.Origin, entry)
			if err != nil {
				return fmt.Errorf("submit %s entry via %s for earmark %s: %w", entry.Memo, sel.Tag, em.ID, err)
			}
			if entry.Memo == bridge.MemoRebalance {
				originReceipt = &receipt
			}
		}
		if originReceipt == nil {
			return fmt.Errorf("adapter %s produced no Rebalance entry for earmark %s", sel.Tag, em.ID)
		}

		opID := p.newID()
		_, err = p.rebalances.CreateRebalanceOperation(ctx, db.CreateRebalanceOperationInput{
			ID:                 opID,
			EarmarkID:          &em.ID,
			OriginChainID:      route.Origin,
			DestinationChainID: route.Destination,
			TickerHash:         tickerHash,
			Amount:             amount.String(),
			SlippageDbps:       sel.SlippageDbps,
			Bridge:             sel.Tag,
			OperationType:      domain.OperationBridge,
			Recipient:          recipient,
			Transactions: []db.TxReceiptInput{{
				ChainID:         fmt.Sprint(route.Origin),
				TransactionHash: originReceipt.TransactionHash,
				From:            originReceipt.From,
				To:              originReceipt.To,
				BlockNumber:     originReceipt.BlockNumber,
				Status:          originReceipt.Status,
				Confirmations:   originReceipt.Confirmations,
			}},
		})
		if err != nil {
			return fmt.Errorf("persist refill operation for earmark %s: %w", em.ID, err)
		}
		logging.Transition(p.log, "rebalanceOperation", opID, "", string(domain.RebalancePending), "earmarkId", em.ID)
		return nil
	}

	return fmt.Errorf("no configured route refills chain %d for ticker %s", designatedChain, inv.TickerHash)
}

func (p *Pipeline) idleBalanceOnChain(ctx context.Context, chainID int64, tickerHash string) *big.Int {
	balances := p.balances.GetMarkBalancesForTicker(ctx, tickerHash)
	if b, ok := balances[chainID]; ok {
		return b
	}
	return big.NewInt(0)
}

func (p *Pipeline) decimalsFor(chainID int64, tickerHash string) int {
	chain, ok := p.cfg.Chains[fmt.Sprint(chainID)]
	if !ok {
		return 18
	}
	for _, a := range chain.Assets {
		if a.TickerHash == tickerHash {
			return a.Decimals
		}
	}
	return 18
}

func (p *Pipeline) newID() string {
	if p.idGen != nil {
		return p.idGen()
	}
	return fmt.Sprintf("iv-%d", p.now().UnixNano())
}
