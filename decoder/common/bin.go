package common

import (
	"fmt"
	"math"
)

// BasisPointMax is the denominator of a DLMM bin step.
const BasisPointMax = 10_000

// DLMM bin id bounds.
const (
	MinBinID int32 = -443636
	MaxBinID int32 = 443636
)

// PricePerLamport converts a UI price of X in Y into base units:
// price × 10^(decimalsY − decimalsX).
func PricePerLamport(price float64, decimalsX, decimalsY uint8) float64 {
	return price * math.Pow10(int(decimalsY)-int(decimalsX))
}

// PriceFromLamport is the inverse of PricePerLamport.
func PriceFromLamport(price float64, decimalsX, decimalsY uint8) float64 {
	return price * math.Pow10(int(decimalsX)-int(decimalsY))
}

// BinPrice is the per-lamport price of bin id: (1 + binStep/10000)^id.
func BinPrice(id int32, binStep uint16) float64 {
	return math.Pow(1+float64(binStep)/BasisPointMax, float64(id))
}

// BinIDFromPrice returns the bin containing pricePerLamport, rounding down.
func BinIDFromPrice(pricePerLamport float64, binStep uint16) (int32, error) {
	if binStep == 0 {
		return 0, fmt.Errorf("zero bin step")
	}
	if pricePerLamport <= 0 || math.IsNaN(pricePerLamport) || math.IsInf(pricePerLamport, 0) {
		return 0, fmt.Errorf("invalid price %v", pricePerLamport)
	}
	id := math.Floor(math.Log(pricePerLamport)/math.Log1p(float64(binStep)/BasisPointMax) + 1e-9)
	if id < float64(MinBinID) || id > float64(MaxBinID) {
		return 0, fmt.Errorf("bin id %v out of range", id)
	}
	return int32(id), nil
}
