// Package bridge defines the uniform capability set every bridge
// integration (Across, CCIP, Binance, Kraken, CowSwap, Mantle, TAC, Pendle,
// …) satisfies, plus the slippage/preference selection algorithm that picks
// one for a configured route. Concrete adapters are out of scope here, the
// way the teacher's Blackhole struct was the one concrete DEX integration
// behind an interface its callers never depended on directly.
package bridge

import (
	"context"
	"math/big"
)

// Memo tags what an adapter-produced transaction entry is for.
type Memo string

const (
	MemoApproval  Memo = "Approval"
	MemoUnwrap    Memo = "Unwrap"
	MemoWrap      Memo = "Wrap"
	MemoStake     Memo = "Stake"
	MemoRebalance Memo = "Rebalance"
	MemoCallback  Memo = "Callback"
	MemoPurchase  Memo = "Purchase"
)

// Route is one origin/destination/asset corridor an adapter is asked about.
type Route struct {
	Origin          int64
	Destination     int64
	Asset           string
	SwapOutputAsset string // only set for swap-and-bridge routes
}

// TxEntry is one transaction an adapter wants submitted, in order.
type TxEntry struct {
	Target          string // contract address or hub-level identifier
	Method          string
	Args            []interface{}
	ABI             string // JSON ABI fragment covering Method, used to pack calldata
	Memo            Memo
	EffectiveAmount *big.Int // set on the Rebalance entry when the adapter rounds the amount
}

// SwapResult is returned by Adapter.ExecuteSwap for swap-and-bridge variants.
type SwapResult struct {
	OrderUID           string
	ExecutedSellAmount *big.Int
	ExecutedBuyAmount  *big.Int
}

// OriginReceipt is the chain-agnostic view of a confirmed origin
// transaction an adapter needs to poll destination status: EVM, Solana and
// CEX-withdrawal adapters all have a hash and a chain, not all have a
// go-ethereum receipt.
type OriginReceipt struct {
	ChainID         int64
	TransactionHash string
	BlockNumber     uint64
	Confirmations   int
}

// Adapter is the capability set of spec §4.3. Not every adapter implements
// swap-and-bridge; SupportsSwap reports which do before ExecuteSwap is
// called.
type Adapter interface {
	Type() string

	// GetMinimumAmount returns the bridge's native-decimal lower bound for
	// route, or nil when it has none.
	GetMinimumAmount(ctx context.Context, route Route) (*big.Int, error)

	// GetReceivedAmount is a pure quote: the amount the recipient will see
	// on destination given current market/fee conditions. May fail with
	// errs.ErrQuoteUnavailable.
	GetReceivedAmount(ctx context.Context, amount *big.Int, route Route) (*big.Int, error)

	// Send returns the ordered transaction entries to submit: optional
	// Approval/Unwrap prerequisites, then exactly one Rebalance entry whose
	// hash becomes the operation's origin tx.
	Send(ctx context.Context, sender, recipient string, amount *big.Int, route Route) ([]TxEntry, error)

	// ReadyOnDestination reports whether the delivered asset has arrived
	// and the destination-side transaction has confirmed. An error wrapping
	// errs.ErrAdapterFailure means the bridge has definitively failed the
	// transfer (not "not yet") and the caller cancels the operation rather
	// than retrying; any other error is treated as transient and retried
	// next tick.
	ReadyOnDestination(ctx context.Context, amount *big.Int, route Route, originReceipt OriginReceipt) (bool, error)

	// DestinationCallback returns an optional transaction (memo Wrap or
	// Callback) to submit on destination, or nil when none is required. An
	// error wrapping errs.ErrAdapterFailure is treated the same as a
	// ReadyOnDestination adapter failure: definitive, not retried.
	DestinationCallback(ctx context.Context, route Route, originReceipt OriginReceipt) (*TxEntry, error)

	SupportsSwap() bool
	// ExecuteSwap is only called when SupportsSwap() is true. An error
	// wrapping errs.ErrAdapterFailure means the swap venue definitively
	// rejected the trade; the caller cancels the operation rather than
	// retrying.
	ExecuteSwap(ctx context.Context, sender, recipient string, amount *big.Int, route Route) (SwapResult, error)
}
