package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Owner abstracts over the address a chain's balance/ownership checks run
// against: a raw EOA, or a Gnosis Safe fronted by a Zodiac role module. Mark
// never branches on "is this chain Safe-routed" outside this package.
type Owner interface {
	Address() common.Address
	// Submit routes a prepared call through this owner: directly for an EOA,
	// through the role module's execTransactionWithRole for a Safe.
	Submit(cc ContractClient, kind TxKind, method string, args ...interface{}) (common.Hash, error)
}

type eoaOwner struct {
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

// NewEOAOwner wraps a raw externally-owned account signer.
func NewEOAOwner(address common.Address, privateKey *ecdsa.PrivateKey) Owner {
	return &eoaOwner{address: address, privateKey: privateKey}
}

func (o *eoaOwner) Address() common.Address { return o.address }

func (o *eoaOwner) Submit(cc ContractClient, kind TxKind, method string, args ...interface{}) (common.Hash, error) {
	if kind == Zodiac {
		return common.Hash{}, fmt.Errorf("owner %s is a plain EOA, cannot route %s through Zodiac", o.address.Hex(), method)
	}
	return cc.Send(Standard, nil, &o.address, o.privateKey, method, args...)
}

type zodiacOwner struct {
	safeAddress common.Address
	roleModule  ContractClient // bound to the Zodiac role module contract
	roleKey     [32]byte
	signer      *eoaOwner // the module-authorized EOA that calls execTransactionWithRole
}

// NewZodiacOwner wraps a Gnosis Safe fronted by a Zodiac role module: reads
// and balance checks resolve against safeAddress, writes are routed through
// roleModule.execTransactionWithRole, signed by the role-authorized EOA.
func NewZodiacOwner(safeAddress common.Address, roleModule ContractClient, roleKey [32]byte, moduleSigner common.Address, moduleKey *ecdsa.PrivateKey) Owner {
	return &zodiacOwner{
		safeAddress: safeAddress,
		roleModule:  roleModule,
		roleKey:     roleKey,
		signer:      &eoaOwner{address: moduleSigner, privateKey: moduleKey},
	}
}

func (o *zodiacOwner) Address() common.Address { return o.safeAddress }

// Submit packs the target call, then wraps it in execTransactionWithRole so
// the Safe (not the signer EOA) is msg.sender on-chain.
func (o *zodiacOwner) Submit(cc ContractClient, kind TxKind, method string, args ...interface{}) (common.Hash, error) {
	data, err := cc.Abi().Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s for zodiac route: %w", method, err)
	}

	const operationCall = uint8(0)
	return o.roleModule.Send(
		Standard, nil, &o.signer.address, o.signer.privateKey,
		"execTransactionWithRole",
		cc.ContractAddress(), big.NewInt(0), data, operationCall, o.roleKey, true,
	)
}
