package domain

import "time"

// TransactionReason categorizes why a Transaction was submitted.
type TransactionReason string

const (
	ReasonRebalance TransactionReason = "Rebalance"
	ReasonApproval  TransactionReason = "Approval"
	ReasonUnwrap    TransactionReason = "Unwrap"
	ReasonWrap      TransactionReason = "Wrap"
	ReasonStake     TransactionReason = "Stake"
	ReasonCallback  TransactionReason = "Callback"
)

// Transaction is an on-chain receipt tied to a RebalanceOperation.
type Transaction struct {
	ID                   string            `json:"id"`
	RebalanceOperationID *string           `json:"rebalanceOperationId,omitempty"`
	TransactionHash      string            `json:"transactionHash"`
	ChainID              string            `json:"chainId"`
	From                 string            `json:"from"`
	To                   string            `json:"to"`
	CumulativeGasUsed    string            `json:"cumulativeGasUsed"`
	EffectiveGasPrice    string            `json:"effectiveGasPrice"`
	Reason               TransactionReason `json:"reason"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}
