package reti

import (
	"github.com/holiman/uint256"
)

// mulDiv computes a*b/c with a 256-bit intermediate so the product never
// overflows.  Ratios are always computed multiply-then-divide to keep
// rounding loss independent of operand order.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	var x, y uint256.Int
	x.SetUint64(a)
	y.SetUint64(b)
	x.Mul(&x, &y)
	y.SetUint64(c)
	x.Div(&x, &y)
	return x.Uint64()
}

// mulDiv3 computes a*b*c/(d*e) with full intermediate headroom - the
// time-weighted reward share (balance * reward * timePct) / (total * 1000).
func mulDiv3(a, b, c, d, e uint64) uint64 {
	if d == 0 || e == 0 {
		return 0
	}
	var x, y, z uint256.Int
	x.SetUint64(a)
	y.SetUint64(b)
	x.Mul(&x, &y)
	y.SetUint64(c)
	x.Mul(&x, &y)
	y.SetUint64(d)
	z.SetUint64(e)
	y.Mul(&y, &z)
	x.Div(&x, &y)
	return x.Uint64()
}
