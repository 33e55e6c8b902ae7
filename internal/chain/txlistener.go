package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxListener waits for transactions to be mined and reports their receipt.
type TxListener interface {
	WaitForTransaction(txHash common.Hash) (*types.Receipt, error)
}

type pollingTxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewTxListener builds a TxListener that polls for a receipt until it
// appears or timeout elapses.
func NewTxListener(client *ethclient.Client, pollInterval, timeout time.Duration) TxListener {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &pollingTxListener{client: client, pollInterval: pollInterval, timeout: timeout}
}

func (l *pollingTxListener) WaitForTransaction(txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for transaction %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ExtractGasCost returns a mined receipt's GasUsed and EffectiveGasPrice (0
// when the receipt carries none); it does not multiply them.
func ExtractGasCost(receipt *types.Receipt) (int64, int64, error) {
	if receipt == nil {
		return 0, 0, errors.New("nil receipt")
	}
	if receipt.EffectiveGasPrice == nil {
		return int64(receipt.GasUsed), 0, nil
	}
	return int64(receipt.GasUsed), receipt.EffectiveGasPrice.Int64(), nil
}
