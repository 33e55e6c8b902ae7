package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/rebalance"
)

// ChainBinding is everything a chain needs to carry an adapter-produced
// bridge.TxEntry to a mined receipt: the RPC client the ContractClient reads
// and estimates gas against, the owner that signs (EOA or Zodiac-routed
// Safe), and the listener that polls for confirmation.
type ChainBinding struct {
	ChainID    int64
	ChainIDBig *big.Int
	Client     *ethclient.Client
	Owner      Owner
	Listener   TxListener
}

// MultiChainSubmitter implements rebalance.TxSubmitter by resolving
// bridge.TxEntry (a chain-agnostic target address + method + args) into the
// ContractClient SubmitTransactionWithLogging already knows how to drive. One
// submitter is shared by the rebalance engine and the invoice pipeline's
// refill leg; InvoicePurchaseSubmitter wraps it for the direct-purchase leg.
type MultiChainSubmitter struct {
	bindings   map[int64]ChainBinding
	approveABI abi.ABI
	log        *zap.SugaredLogger
}

// NewMultiChainSubmitter indexes bindings by chain ID. Chains absent from
// bindings fail Submit with a descriptive error rather than panicking.
func NewMultiChainSubmitter(log *zap.SugaredLogger, bindings []ChainBinding) (*MultiChainSubmitter, error) {
	byChain := make(map[int64]ChainBinding, len(bindings))
	for _, b := range bindings {
		byChain[b.ChainID] = b
	}
	parsedApproveABI, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 approve abi: %w", err)
	}
	return &MultiChainSubmitter{bindings: byChain, approveABI: parsedApproveABI, log: log}, nil
}

// Submit packs and sends one adapter-produced transaction entry on
// chainID, waits for it to confirm, and translates the result into the
// chain-agnostic receipt shape the rebalance/invoice packages persist. An
// Approval-memo'd entry is routed through the zero-then-approve helper
// instead of being sent as a blind generic call, per spec.md:170.
func (s *MultiChainSubmitter) Submit(ctx context.Context, chainID int64, entry bridge.TxEntry) (rebalance.SubmissionReceipt, error) {
	binding, ok := s.bindings[chainID]
	if !ok {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("no chain binding registered for chain %d", chainID)
	}

	if entry.Memo == bridge.MemoApproval {
		return s.submitApproval(chainID, binding, entry)
	}

	parsedABI, err := abi.JSON(strings.NewReader(entry.ABI))
	if err != nil {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("parse ABI for %s on chain %d: %w", entry.Method, chainID, err)
	}

	target := NewContractClient(binding.Client, binding.ChainIDBig, common.HexToAddress(entry.Target), parsedABI)

	result, err := SubmitTransactionWithLogging(s.log, binding.Listener, binding.Owner, Standard, TxRequest{
		Target:  target,
		Method:  entry.Method,
		Args:    entry.Args,
		Context: fmt.Sprintf("%s:%s", entry.Memo, entry.Target),
	})
	if err != nil {
		return rebalance.SubmissionReceipt{}, err
	}

	return rebalance.SubmissionReceipt{
		TransactionHash: result.Hash.Hex(),
		From:            binding.Owner.Address().Hex(),
		To:              entry.Target,
		BlockNumber:     result.BlockNumber,
		Status:          result.Status,
	}, nil
}

// submitApproval implements spec.md:170's Approval step: read current
// allowance, zero it first for USDT-like tokens when non-zero, then approve
// for the required amount. entry.Args carries [spender, requiredAmount], the
// shape every adapter's Send() produces for its prerequisite Approval entry.
func (s *MultiChainSubmitter) submitApproval(chainID int64, binding ChainBinding, entry bridge.TxEntry) (rebalance.SubmissionReceipt, error) {
	if len(entry.Args) != 2 {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("approval entry for %s on chain %d: expected [spender, amount] args, got %d", entry.Target, chainID, len(entry.Args))
	}
	spender, err := toAddress(entry.Args[0])
	if err != nil {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("approval spender for %s on chain %d: %w", entry.Target, chainID, err)
	}
	requiredAmount, ok := entry.Args[1].(*big.Int)
	if !ok {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("approval amount for %s on chain %d has unexpected type %T", entry.Target, chainID, entry.Args[1])
	}

	token := NewContractClient(binding.Client, binding.ChainIDBig, common.HexToAddress(entry.Target), s.approveABI)

	zeroFirst := false
	if symbolResult, err := token.Call(addrPtr(binding.Owner.Address()), "symbol"); err != nil {
		s.log.Warnw("symbol read failed, defaulting zeroFirst to false for approval", "token", entry.Target, "chain", chainID, "error", err)
	} else if symbol, ok := symbolResult[0].(string); ok {
		zeroFirst = IsUSDTLike(symbol)
	}

	hash, err := CheckAndApproveERC20(token, binding.Owner, spender, requiredAmount, zeroFirst)
	if err != nil {
		return rebalance.SubmissionReceipt{}, fmt.Errorf("approve %s for %s on chain %d: %w", requiredAmount.String(), entry.Target, chainID, err)
	}

	return rebalance.SubmissionReceipt{
		TransactionHash: hash.Hex(),
		From:            binding.Owner.Address().Hex(),
		To:              entry.Target,
	}, nil
}

// toAddress accepts either an already-typed common.Address or its hex string
// form, the two shapes an adapter's Send() might reasonably produce for a
// spender argument.
func toAddress(v interface{}) (common.Address, error) {
	switch t := v.(type) {
	case common.Address:
		return t, nil
	case string:
		return common.HexToAddress(t), nil
	default:
		return common.Address{}, fmt.Errorf("unexpected type %T", v)
	}
}
