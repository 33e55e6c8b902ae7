package domain

import "time"

// SwapStatus is the lifecycle state of a SwapOperation. Transitions are linear
// (pending_deposit -> deposit_confirmed -> processing -> completed), with any
// state able to move to failed, and failed able to move to recovering.
type SwapStatus string

const (
	SwapPendingDeposit  SwapStatus = "pending_deposit"
	SwapDepositConfirmed SwapStatus = "deposit_confirmed"
	SwapProcessing      SwapStatus = "processing"
	SwapCompleted       SwapStatus = "completed"
	SwapFailed          SwapStatus = "failed"
	SwapRecovering      SwapStatus = "recovering"
)

// SwapOperation is a sub-step owned by one RebalanceOperation of type
// swap_and_bridge.
type SwapOperation struct {
	ID                    string            `json:"id"`
	RebalanceOperationID  string            `json:"rebalanceOperationId"`
	Platform              string            `json:"platform"`
	FromAsset             string            `json:"fromAsset"`
	ToAsset               string            `json:"toAsset"`
	FromAmount            string            `json:"fromAmount"`
	ToAmount              string            `json:"toAmount"`
	ExpectedRate          string            `json:"expectedRate"`
	QuoteID               *string           `json:"quoteId,omitempty"`
	OrderID               *string           `json:"orderId,omitempty"`
	ActualRate            *string           `json:"actualRate,omitempty"`
	Status                SwapStatus        `json:"status"`
	Metadata              map[string]any    `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}
