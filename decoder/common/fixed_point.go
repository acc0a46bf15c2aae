package common

import (
	"fmt"
	"math"
	"math/big"

	"lukechampine.com/uint128"
)

// Q64Shift is the fractional width of Whirlpool Q64.64 sqrt prices.
const Q64Shift = 64

// Whirlpool tick bounds.
const (
	MinTickIndex int32 = -443636
	MaxTickIndex int32 = 443636
)

var q64One = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), Q64Shift))

// SqrtPriceX64ToPrice converts a Q64.64 sqrt price into the UI price of token
// A in token B, adjusting for mint decimals.
func SqrtPriceX64ToPrice(sqrtPrice uint128.Uint128, decimalsA, decimalsB uint8) float64 {
	if sqrtPrice.IsZero() {
		return 0
	}
	f := new(big.Float).SetInt(sqrtPrice.Big())
	f.Quo(f, q64One)
	f.Mul(f, f)
	raw, _ := f.Float64()
	return raw * math.Pow10(int(decimalsA)-int(decimalsB))
}

// PriceToSqrtPriceX64 is the inverse of SqrtPriceX64ToPrice.
func PriceToSqrtPriceX64(price float64, decimalsA, decimalsB uint8) (uint128.Uint128, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return uint128.Zero, fmt.Errorf("invalid price %v", price)
	}
	raw := price * math.Pow10(int(decimalsB)-int(decimalsA))
	f := new(big.Float).SetFloat64(math.Sqrt(raw))
	f.Mul(f, q64One)
	i, _ := f.Int(nil)
	if i.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("sqrt price overflows u128 for price %v", price)
	}
	return uint128.FromBig(i), nil
}

// TickIndexToPrice returns 1.0001^tick adjusted for mint decimals.
func TickIndexToPrice(tick int32, decimalsA, decimalsB uint8) float64 {
	return math.Pow(1.0001, float64(tick)) * math.Pow10(int(decimalsA)-int(decimalsB))
}

// SqrtPriceX64ToTickIndex returns the tick whose price is at or below sqrtPrice.
func SqrtPriceX64ToTickIndex(sqrtPrice uint128.Uint128) (int32, error) {
	if sqrtPrice.IsZero() {
		return 0, fmt.Errorf("zero sqrt price")
	}
	f := new(big.Float).SetInt(sqrtPrice.Big())
	f.Quo(f, q64One)
	s, _ := f.Float64()
	tick := math.Floor(2*math.Log(s)/math.Log(1.0001) + 1e-9)
	if tick < float64(MinTickIndex) || tick > float64(MaxTickIndex) {
		return 0, fmt.Errorf("tick %v out of range", tick)
	}
	return int32(tick), nil
}

// ScaleAmount converts base units into whole tokens.
func ScaleAmount(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// UnscaleAmount converts whole tokens into base units, truncating.
func UnscaleAmount(amount float64, decimals uint8) uint64 {
	return uint64(amount * math.Pow10(int(decimals)))
}
