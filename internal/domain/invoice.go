package domain

// Invoice is the hub's view of a settlement intent. Mark never persists
// invoices itself — they are re-fetched from the hub on every backfill pass
// and only their derived Earmark/RebalanceOperation rows are stored.
type Invoice struct {
	ID           string  `json:"id"`
	Owner        string  `json:"owner"`
	Amount       string  `json:"amount"`
	TickerHash   string  `json:"tickerHash"`
	OriginDomain int64   `json:"originDomain"`
	Destinations []int64 `json:"destinations"`
	CreatedAt    int64   `json:"createdAt"` // seconds epoch, as returned by the hub
}

// RejectionReason names why an invoice failed validation, per spec §4.5.
type RejectionReason string

const (
	RejectInvalidFormat       RejectionReason = "InvalidFormat"
	RejectInvalidAmount       RejectionReason = "InvalidAmount"
	RejectInvalidOwner        RejectionReason = "InvalidOwner"
	RejectInvalidDestinations RejectionReason = "InvalidDestinations"
	RejectInvalidTickers      RejectionReason = "InvalidTickers"
	RejectTooOld              RejectionReason = "InvoiceTooOld"
)
