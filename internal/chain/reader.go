package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	goethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/everclearorg/mark-sub001/internal/balance"
)

// erc20ReadABI covers the one read Reader needs; CheckAndApproveERC20/
// BalanceOf in erc20.go take a pre-bound ContractClient instead, since
// those call sites already hold one for the token they're acting on.
const erc20ReadABI = `[{
	"name": "balanceOf",
	"type": "function",
	"stateMutability": "view",
	"inputs": [{"name": "account", "type": "address"}],
	"outputs": [{"name": "", "type": "uint256"}]
}]`

// Reader implements balance.ChainReader over a set of per-chain RPC
// bindings, reusing the same ChainBinding shape MultiChainSubmitter binds
// against so one config pass produces both.
type Reader struct {
	bindings map[int64]ChainBinding
	erc20ABI goethabi.ABI
}

// NewReader builds a balance.ChainReader from the same bindings used for
// transaction submission.
func NewReader(bindings []ChainBinding) (*Reader, error) {
	parsed, err := goethabi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 read abi: %w", err)
	}
	byChain := make(map[int64]ChainBinding, len(bindings))
	for _, b := range bindings {
		byChain[b.ChainID] = b
	}
	return &Reader{bindings: byChain, erc20ABI: parsed}, nil
}

func (r *Reader) binding(chainID int64) (ChainBinding, error) {
	b, ok := r.bindings[chainID]
	if !ok {
		return ChainBinding{}, fmt.Errorf("no chain binding registered for chain %d", chainID)
	}
	return b, nil
}

// NativeBalance reads the native asset balance of owner on chainID.
func (r *Reader) NativeBalance(ctx context.Context, chainID int64, owner string) (*big.Int, error) {
	b, err := r.binding(chainID)
	if err != nil {
		return nil, err
	}
	return b.Client.BalanceAt(ctx, common.HexToAddress(owner), nil)
}

// TokenBalance reads an ERC20 balanceOf(owner) on chainID.
func (r *Reader) TokenBalance(ctx context.Context, chainID int64, tokenAddress, owner string) (*big.Int, error) {
	b, err := r.binding(chainID)
	if err != nil {
		return nil, err
	}
	token := NewContractClient(b.Client, b.ChainIDBig, common.HexToAddress(tokenAddress), r.erc20ABI)
	ownerAddr := common.HexToAddress(owner)
	result, err := token.Call(&ownerAddr, "balanceOf", ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on chain %d: %w", tokenAddress, chainID, err)
	}
	bal, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", result[0])
	}
	return bal, nil
}

// ResolvedOwner returns the address Mark transacts as on chainID: the raw
// signer address, or a configured Safe address on Zodiac-routed chains.
func (r *Reader) ResolvedOwner(chainID int64) string {
	b, err := r.binding(chainID)
	if err != nil {
		return ""
	}
	return b.Owner.Address().Hex()
}

// GasBalances reads the native gas balance, keyed under GasNative. Mark's
// chain roster here is EVM-only; Tron's Bandwidth/Energy resources have no
// ethclient equivalent and are left unset rather than faked.
func (r *Reader) GasBalances(ctx context.Context, chainID int64) (map[balance.GasType]*big.Int, error) {
	b, err := r.binding(chainID)
	if err != nil {
		return nil, err
	}
	native, err := b.Client.BalanceAt(ctx, b.Owner.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("native gas balance on chain %d: %w", chainID, err)
	}
	return map[balance.GasType]*big.Int{balance.GasNative: native}, nil
}
