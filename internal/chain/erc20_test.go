package chain

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContractClient struct {
	allowance *big.Int
}

func (f *fakeContractClient) ContractAddress() common.Address { return common.Address{} }
func (f *fakeContractClient) Abi() abi.ABI                     { return abi.ABI{} }
func (f *fakeContractClient) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	return []interface{}{f.allowance}, nil
}
func (f *fakeContractClient) Send(kind TxKind, gasLimit *uint64, from *common.Address, signer *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	return common.Hash{}, nil
}
func (f *fakeContractClient) ParseReceipt(receipt *types.Receipt) (string, error) { return "", nil }

type fakeOwner struct {
	address   common.Address
	submitted []string
	err       error
}

func (f *fakeOwner) Address() common.Address { return f.address }
func (f *fakeOwner) Submit(cc ContractClient, kind TxKind, method string, args ...interface{}) (common.Hash, error) {
	if f.err != nil {
		return common.Hash{}, f.err
	}
	f.submitted = append(f.submitted, method)
	return common.HexToHash("0xapprove"), nil
}

func TestCheckAndApproveERC20_SkipsWhenAllowanceSufficient(t *testing.T) {
	token := &fakeContractClient{allowance: big.NewInt(1_000)}
	owner := &fakeOwner{address: common.HexToAddress("0x1")}

	hash, err := CheckAndApproveERC20(token, owner, common.HexToAddress("0x2"), big.NewInt(500), false)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
	assert.Empty(t, owner.submitted)
}

func TestCheckAndApproveERC20_ZeroFirstWhenAllowanceNonZeroAndRequired(t *testing.T) {
	token := &fakeContractClient{allowance: big.NewInt(100)}
	owner := &fakeOwner{address: common.HexToAddress("0x1")}

	hash, err := CheckAndApproveERC20(token, owner, common.HexToAddress("0x2"), big.NewInt(500), true)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	require.Len(t, owner.submitted, 2, "USDT-like tokens get approve(0) then approve(amount)")
	assert.Equal(t, []string{"approve", "approve"}, owner.submitted)
}

func TestCheckAndApproveERC20_DirectApproveWhenNotZeroFirst(t *testing.T) {
	token := &fakeContractClient{allowance: big.NewInt(0)}
	owner := &fakeOwner{address: common.HexToAddress("0x1")}

	hash, err := CheckAndApproveERC20(token, owner, common.HexToAddress("0x2"), big.NewInt(500), true)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Len(t, owner.submitted, 1, "zero-first is only needed when the existing allowance is non-zero")
}

func TestIsUSDTLike(t *testing.T) {
	assert.True(t, IsUSDTLike("USDT"))
	assert.True(t, IsUSDTLike("usdt"))
	assert.False(t, IsUSDTLike("USDC"))
}
