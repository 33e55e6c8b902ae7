// Package chain wraps go-ethereum's ethclient/abi/bind packages behind the
// same ContractClient/TxListener contract the teacher's Blackhole integration
// was written against, generalized from one hardcoded DEX to any chain/
// contract pair named in configuration.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxKind selects how a transaction is submitted. Standard is an EOA-signed
// legacy/EIP-1559 send; Zodiac routes the call through a Safe role module.
type TxKind int

const (
	Standard TxKind = iota
	Zodiac
)

// ContractClient is a single contract's callable surface on one chain.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	// Call executes a read-only method. caller is optional (nil uses the
	// zero address) and only affects methods that branch on msg.sender.
	Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error)
	// Send packs method(args...), signs with signer and broadcasts it.
	// A nil gasLimit triggers automatic estimation.
	Send(kind TxKind, gasLimit *uint64, from *common.Address, signer *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	// ParseReceipt decodes every log in receipt that matches this contract's
	// ABI events into a JSON array of {EventName, Parameter} objects.
	ParseReceipt(receipt *types.Receipt) (string, error)
}

type ethContractClient struct {
	client  *ethclient.Client
	chainID *big.Int
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient bound to one deployed contract.
func NewContractClient(client *ethclient.Client, chainID *big.Int, address common.Address, contractAbi abi.ABI) ContractClient {
	return &ethContractClient{client: client, chainID: chainID, address: address, abi: contractAbi}
}

func (c *ethContractClient) ContractAddress() common.Address { return c.address }

func (c *ethContractClient) Abi() abi.ABI { return c.abi }

func (c *ethContractClient) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	from := common.Address{}
	if caller != nil {
		from = *caller
	}

	msg := ethereum.CallMsg{From: from, To: &c.address, Data: data}
	out, err := c.client.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return c.abi.Unpack(method, out)
}

func (c *ethContractClient) Send(kind TxKind, gasLimit *uint64, from *common.Address, signer *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	switch kind {
	case Zodiac:
		return common.Hash{}, fmt.Errorf("zodiac-routed send for %s must go through a ZodiacSigner, not ContractClient.Send directly", method)
	default:
		return c.sendStandard(gasLimit, from, signer, data, method)
	}
}

func (c *ethContractClient) sendStandard(gasLimit *uint64, from *common.Address, signer *ecdsa.PrivateKey, data []byte, method string) (common.Hash, error) {
	ctx := context.Background()

	nonce, err := c.client.PendingNonceAt(ctx, *from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce for %s: %w", method, err)
	}

	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas tip for %s: %w", method, err)
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("head for %s: %w", method, err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	limit := uint64(0)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		est, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: *from, To: &c.address, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas for %s: %w", method, err)
		}
		limit = est + est/5 // 20% headroom
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       limit,
		To:        &c.address,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast %s: %w", method, err)
	}

	return signed.Hash(), nil
}

type parsedEvent struct {
	EventName string                 `json:"EventName"`
	Parameter map[string]interface{} `json:"Parameter"`
}

func (c *ethContractClient) ParseReceipt(receipt *types.Receipt) (string, error) {
	var events []parsedEvent
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue // not one of this contract's known events
		}
		params := map[string]interface{}{}
		if err := c.abi.UnpackIntoMap(params, ev.Name, l.Data); err != nil {
			continue
		}
		for i, arg := range ev.Inputs {
			if !arg.Indexed {
				continue
			}
			if i+1 < len(l.Topics) {
				params[arg.Name] = l.Topics[i+1].Hex()
			}
		}
		events = append(events, parsedEvent{EventName: ev.Name, Parameter: params})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal parsed receipt events: %w", err)
	}
	return string(out), nil
}

// NewBoundTransactor builds a *bind.TransactOpts for code paths (e.g.
// generated contract bindings) that need one rather than the raw
// ContractClient.Send path.
func NewBoundTransactor(signer *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(signer, chainID)
}
