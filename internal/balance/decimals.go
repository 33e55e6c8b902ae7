// Package balance provides decimal normalization between an asset's native
// units and Mark's internal 18-decimal "hub" representation, and the
// balance/asset/earmark-aware availability services built on top of it.
package balance

import "math/big"

const hubDecimals = 18

var ten = big.NewInt(10)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// ToHub converts a native-decimal amount (decimals d) into the 18-decimal
// hub representation. For d < 18 this is an exact upscale (multiplication);
// for d = 18 it is the identity.
func ToHub(amount *big.Int, decimals int) *big.Int {
	if decimals >= hubDecimals {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Mul(amount, pow10(hubDecimals-decimals))
}

// FromHub converts an 18-decimal hub amount back to native decimals,
// rounding UP on loss of precision so downstream constraints (e.g. minimum
// bridge amounts) never under-fund.
func FromHub(hubAmount *big.Int, decimals int) *big.Int {
	if decimals >= hubDecimals {
		return new(big.Int).Set(hubAmount)
	}
	divisor := pow10(hubDecimals - decimals)
	quotient, remainder := new(big.Int).QuoRem(hubAmount, divisor, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}
