package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/everclearorg/mark-sub001/internal/logging"
)

// TxRequest is the chain-agnostic shape of a transaction to submit: a
// target contract call described as method+args against a ContractClient.
type TxRequest struct {
	Target  ContractClient
	Method  string
	Args    []interface{}
	Context string // free-form tag surfaced in logs, e.g. "rebalance:abc123"
}

// SubmissionResult is returned by SubmitTransactionWithLogging. It exposes
// every field of the mined receipt callers may need downstream.
type SubmissionResult struct {
	Hash              common.Hash
	SubmissionType    TxKind
	CumulativeGasUsed uint64
	EffectiveGasPrice string
	BlockNumber       uint64
	Status            uint64
}

// SubmitTransactionWithLogging is the sole entry point for sending any
// transaction: it resolves the owner (EOA or Zodiac-routed Safe), submits,
// waits for confirmation, logs the outcome, and fails fast on a reverted
// receipt.
func SubmitTransactionWithLogging(log *zap.SugaredLogger, listener TxListener, owner Owner, kind TxKind, req TxRequest) (*SubmissionResult, error) {
	hash, err := owner.Submit(req.Target, kind, req.Method, req.Args...)
	if err != nil {
		log.Errorw("transaction submission failed", "context", req.Context, "method", req.Method, "error", err)
		return nil, fmt.Errorf("submit %s (%s): %w", req.Method, req.Context, err)
	}

	receipt, err := listener.WaitForTransaction(hash)
	if err != nil {
		log.Errorw("transaction confirmation failed", "context", req.Context, "hash", hash.Hex(), "error", err)
		return nil, fmt.Errorf("confirm %s (%s): %w", hash.Hex(), req.Context, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Errorw("transaction reverted", "context", req.Context, "hash", hash.Hex())
		return nil, fmt.Errorf("transaction %s reverted (%s)", hash.Hex(), req.Context)
	}

	result := &SubmissionResult{
		Hash:              hash,
		SubmissionType:    kind,
		CumulativeGasUsed: receipt.CumulativeGasUsed,
		BlockNumber:       receipt.BlockNumber.Uint64(),
		Status:            receipt.Status,
	}
	if receipt.EffectiveGasPrice != nil {
		result.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}

	logging.Transition(log, "transaction", hash.Hex(), "submitted", "confirmed",
		"context", req.Context, "gasUsed", receipt.CumulativeGasUsed, "block", result.BlockNumber)

	return result, nil
}
