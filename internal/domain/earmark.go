// Package domain holds the core entities Mark persists and reasons about:
// earmarks, rebalance operations, swap operations and transactions.
package domain

import "time"

// EarmarkStatus is the lifecycle state of an Earmark.
type EarmarkStatus string

const (
	EarmarkPending   EarmarkStatus = "PENDING"
	EarmarkReady     EarmarkStatus = "READY"
	EarmarkCompleted EarmarkStatus = "COMPLETED"
	EarmarkCancelled EarmarkStatus = "CANCELLED"
	EarmarkExpired   EarmarkStatus = "EXPIRED"
)

// Earmark reserves a settlement intent for one external invoice. At most one
// Earmark may exist per InvoiceID; this is enforced by a unique index at the
// persistence layer, not in-memory.
type Earmark struct {
	ID                      string        `json:"id"`
	InvoiceID               string        `json:"invoiceId"`
	DesignatedPurchaseChain int64         `json:"designatedPurchaseChain"`
	TickerHash              string        `json:"tickerHash"`
	MinAmount               string        `json:"minAmount"`
	Status                  EarmarkStatus `json:"status"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}
