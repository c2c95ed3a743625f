package math

import (
	"math/big"
)

// Fixed-point precisions used by the lending and fee math
var (
	Ray         = MustBig("1000000000000000000000000000") // 1e27
	HalfRay     = new(big.Int).Rsh(Ray, 1)
	Wad         = big.NewInt(1_000_000_000_000_000_000) // 1e18
	BasisPoints = big.NewInt(10_000)
	halfBps     = big.NewInt(5_000)

	// MaxUint256 is 2^256 - 1
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// MustBig parses a base-10 integer constant
func MustBig(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant: " + value)
	}
	return v
}

// Clone returns a copy of x, treating nil as zero
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// MulDiv computes floor(x * y / d). A zero divisor yields zero.
func MulDiv(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(x, y)
	return product.Quo(product, d)
}

// PercentMul applies a basis point rate to value, rounding half up
func PercentMul(value *big.Int, bps uint64) *big.Int {
	if value == nil || value.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(value, new(big.Int).SetUint64(bps))
	product.Add(product, halfBps)
	return product.Quo(product, BasisPoints)
}

// RayMul multiplies two ray values, rounding half up
func RayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return new(big.Int)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, HalfRay)
	return product.Quo(product, Ray)
}

// RayDiv divides a by b in ray precision, rounding half up
func RayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return new(big.Int)
	}
	numerator := new(big.Int).Mul(a, Ray)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	return numerator.Quo(numerator, b)
}

// BpsToRay converts an annual rate in basis points to a ray
func BpsToRay(bps uint64) *big.Int {
	return MulDiv(new(big.Int).SetUint64(bps), Ray, BasisPoints)
}

// Min returns the smaller of x and y
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

// Max returns the larger of x and y
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}
