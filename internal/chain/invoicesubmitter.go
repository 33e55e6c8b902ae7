package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/rebalance"
)

// everclearPurchaseABI covers the single method Mark calls to settle an
// invoice directly: purchase(string invoiceId, uint256 amount, string
// tickerHash). The Everclear hub contract's full ABI has many more methods;
// only the one Mark submits against needs to be known here.
const everclearPurchaseABI = `[{
	"name": "purchase",
	"type": "function",
	"inputs": [
		{"name": "invoiceId", "type": "string"},
		{"name": "amount", "type": "uint256"},
		{"name": "tickerHash", "type": "string"}
	],
	"outputs": []
}]`

// InvoicePurchaseSubmitter resolves the per-chain Everclear deployment
// address configured for the designated purchase chain and submits a
// purchase() call through the shared MultiChainSubmitter, giving
// invoice.Pipeline a PurchaseSubmitter without depending on chain directly.
type InvoicePurchaseSubmitter struct {
	cfg  *config.Config
	core *MultiChainSubmitter
}

// NewInvoicePurchaseSubmitter builds a submitter over core, looking up each
// chain's Everclear deployment address from cfg.
func NewInvoicePurchaseSubmitter(cfg *config.Config, core *MultiChainSubmitter) *InvoicePurchaseSubmitter {
	return &InvoicePurchaseSubmitter{cfg: cfg, core: core}
}

// SubmitPurchase settles inv directly on chainID, the designated purchase
// chain selected by the invoice pipeline.
func (s *InvoicePurchaseSubmitter) SubmitPurchase(ctx context.Context, chainID int64, inv domain.Invoice) (rebalance.SubmissionReceipt, error) {
	chainCfg, ok := s.cfg.Chains[fmt.Sprint(chainID)]
	if !ok {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("no configuration for chain %d", chainID)
	}
	if chainCfg.Deployments.Everclear == "" {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("no Everclear deployment configured for chain %d", chainID)
	}

	amount, ok := new(big.Int).SetString(inv.Amount, 10)
	if !ok {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("invoice %s has unparsable amount %q", inv.ID, inv.Amount)
	}

	entry := bridge.TxEntry{
		Target: chainCfg.Deployments.Everclear,
		Method: "purchase",
		Args:   []interface{}{inv.ID, amount, inv.TickerHash},
		ABI:    everclearPurchaseABI,
		Memo:   bridge.MemoPurchase,
	}

	return s.core.Submit(ctx, chainID, entry)
}
