// Package invoice implements Mark's side of the hub interaction: backfill,
// settlement detection, validation and purchase planning of spec §4.5.
package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
)

// ErrInvoiceNotFound is returned by HubClient.GetInvoice when the hub
// answers 404, the signal settlement-backfill reads as "settled."
var ErrInvoiceNotFound = fmt.Errorf("invoice not found: %w", errs.ErrNotFound)

// HubClient is Mark's read path against the Everclear hub's invoice API.
// Built on hashicorp/go-retryablehttp (already in the dependency graph via
// go-ethereum's indirect requirement) rather than a bare *http.Client, so
// 5xx/connection-reset responses retry with backoff before surfacing as
// errors the pipeline has to treat as warnings.
type HubClient struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHubClient builds a HubClient against baseURL (e.g.
// "https://api.everclear.org"). log receives retryablehttp's own retry
// diagnostics at debug level.
func NewHubClient(baseURL string, log *zap.SugaredLogger, timeout time.Duration) *HubClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = retryableLogAdapter{log}
	if timeout > 0 {
		rc.HTTPClient.Timeout = timeout
	}
	return &HubClient{baseURL: baseURL, client: rc}
}

// BackfillPage is one page of the hub's invoice backfill listing.
type BackfillPage struct {
	Invoices   []domain.Invoice `json:"invoices"`
	NextCursor string           `json:"nextCursor"`
}

// ListInvoicesSince backfills invoices created after cursor.
func (h *HubClient) ListInvoicesSince(ctx context.Context, cursor string) (BackfillPage, error) {
	url := fmt.Sprintf("%s/invoices?cursor=%s", h.baseURL, cursor)
	var page BackfillPage
	if err := h.getJSON(ctx, url, &page); err != nil {
		return BackfillPage{}, err
	}
	return page, nil
}

// GetInvoice re-fetches a single invoice by id. Returns ErrInvoiceNotFound
// on a 404, which settlement backfill interprets as "now settled."
func (h *HubClient) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	url := fmt.Sprintf("%s/invoices/%s", h.baseURL, invoiceID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Invoice{}, ErrInvoiceNotFound
	}
	if resp.StatusCode >= 400 {
		return domain.Invoice{}, fmt.Errorf("hub returned status %d for invoice %s", resp.StatusCode, invoiceID)
	}

	var inv domain.Invoice
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

// custodiedBalanceResponse is the hub's custody-storage read response.
type custodiedBalanceResponse struct {
	Amount string `json:"amount"`
}

// CustodiedBalance reads the hub's custodied (in-flight, not-yet-settled)
// balance for tickerHash on chainID, implementing balance.HubReader.
func (h *HubClient) CustodiedBalance(ctx context.Context, tickerHash string, chainID int64) (*big.Int, error) {
	url := fmt.Sprintf("%s/custodied-balance?tickerHash=%s&chainId=%d", h.baseURL, tickerHash, chainID)
	var resp custodiedBalanceResponse
	if err := h.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(resp.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("custodied balance for %s on chain %d: unparsable amount %q", tickerHash, chainID, resp.Amount)
	}
	return amount, nil
}

func (h *HubClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hub returned status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retryableLogAdapter routes retryablehttp's internal retry/backoff logging
// through the process zap logger instead of its default stdlib logger.
type retryableLogAdapter struct {
	log *zap.SugaredLogger
}

func (a retryableLogAdapter) Printf(format string, args ...interface{}) {
	a.log.Debugf(format, args...)
}
