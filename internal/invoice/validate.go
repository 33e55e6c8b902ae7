package invoice

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/domain"
)

// MaxInvoiceAge bounds how old an invoice may be before it is rejected as
// stale, absent a per-chain override in config.ChainConfig.InvoiceAge.
const MaxInvoiceAge = 7 * 24 * time.Hour

// Validate checks inv against the rejection reasons of spec §4.5 step 3, in
// the documented order, returning the first reason found and ok=false. An
// empty reason with ok=true means the invoice is accepted for purchase
// planning.
func Validate(cfg *config.Config, inv domain.Invoice, ownAddress string, now time.Time) (domain.RejectionReason, bool) {
	if inv.ID == "" || inv.Owner == "" || inv.TickerHash == "" {
		return domain.RejectInvalidFormat, false
	}

	amount, ok := new(big.Int).SetString(inv.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return domain.RejectInvalidAmount, false
	}

	if strings.EqualFold(inv.Owner, ownAddress) {
		return domain.RejectInvalidOwner, false
	}

	if !hasSettlementOverlap(cfg, inv.Destinations) {
		return domain.RejectInvalidDestinations, false
	}

	if !tickerKnown(cfg, inv.TickerHash) {
		return domain.RejectInvalidTickers, false
	}

	maxAge := MaxInvoiceAge
	if chain, ok := cfg.Chains[fmt.Sprint(inv.OriginDomain)]; ok && chain.InvoiceAge > 0 {
		maxAge = time.Duration(chain.InvoiceAge) * time.Second
	}
	createdAt := time.Unix(inv.CreatedAt, 0)
	if now.Sub(createdAt) > maxAge {
		return domain.RejectTooOld, false
	}

	return "", true
}

func hasSettlementOverlap(cfg *config.Config, destinations []int64) bool {
	if len(cfg.SupportedSettlementDomains) == 0 {
		return true // unconfigured means no restriction
	}
	supported := map[int64]struct{}{}
	for _, d := range cfg.SupportedSettlementDomains {
		supported[d] = struct{}{}
	}
	for _, d := range destinations {
		if _, ok := supported[d]; ok {
			return true
		}
	}
	return false
}

func tickerKnown(cfg *config.Config, tickerHash string) bool {
	for _, t := range cfg.AllTickers() {
		if strings.EqualFold(t, tickerHash) {
			return true
		}
	}
	return false
}
