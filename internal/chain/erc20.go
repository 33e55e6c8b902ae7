package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// erc20ApproveABI covers the three calls the Approval submission path
// needs: a read of current allowance, the approve write itself, and a best-
// effort symbol read used to pick zeroFirst for tokens like USDT.
const erc20ApproveABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// CheckAndApproveERC20 mirrors the teacher's ensureApproval: it reads the
// current allowance and only sends an approve transaction when it falls
// short of requiredAmount. Some tokens (USDT on mainnet being the classic
// case) revert on approve() when the existing allowance is nonzero, so
// tokens listed in zeroFirst get an approve(spender, 0) first.
func CheckAndApproveERC20(token ContractClient, owner Owner, spender common.Address, requiredAmount *big.Int, zeroFirst bool) (common.Hash, error) {
	result, err := token.Call(addrPtr(owner.Address()), "allowance", owner.Address(), spender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("check allowance: %w", err)
	}
	current, ok := result[0].(*big.Int)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected allowance return type %T", result[0])
	}

	if current.Cmp(requiredAmount) >= 0 {
		return common.Hash{}, nil
	}

	if zeroFirst && current.Sign() > 0 {
		if _, err := owner.Submit(token, Standard, "approve", spender, big.NewInt(0)); err != nil {
			return common.Hash{}, fmt.Errorf("reset allowance to zero: %w", err)
		}
	}

	hash, err := owner.Submit(token, Standard, "approve", spender, requiredAmount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("approve %s for %s: %w", requiredAmount.String(), spender.Hex(), err)
	}
	return hash, nil
}

// BalanceOf reads an ERC20 balance; for the native asset the caller should
// use the chain RPC's balance endpoint instead of this helper.
func BalanceOf(token ContractClient, owner common.Address) (*big.Int, error) {
	result, err := token.Call(&owner, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	bal, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", result[0])
	}
	return bal, nil
}

// IsUSDTLike reports whether a token symbol is known to require the
// zero-then-approve dance. Grounded on the well-known USDT mainnet quirk.
func IsUSDTLike(symbol string) bool {
	return strings.EqualFold(symbol, "USDT")
}

func addrPtr(a common.Address) *common.Address { return &a }
