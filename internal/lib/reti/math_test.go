package reti

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulDiv(t *testing.T) {
	assert.EqualValues(t, 50, mulDiv(100, 500_000, 1_000_000))
	assert.EqualValues(t, 0, mulDiv(100, 0, 1_000_000))
	assert.EqualValues(t, 0, mulDiv(100, 500_000, 0), "zero divisor yields zero, not a panic")

	// product far beyond 64 bits must not overflow
	assert.EqualValues(t, uint64(math.MaxUint64), mulDiv(math.MaxUint64, math.MaxUint64, math.MaxUint64))
	assert.EqualValues(t, uint64(1)<<63, mulDiv(uint64(1)<<62, 4, 2))

	// truncating division
	assert.EqualValues(t, 33, mulDiv(100, 1, 3))
}

func TestMulDiv3(t *testing.T) {
	// (balance * reward * timePct) / (total * 1000)
	assert.EqualValues(t, 6_759_000, mulDiv3(100_000_000, 18_000_000, 751, 200_000_000, 1000))
	assert.EqualValues(t, 0, mulDiv3(100, 100, 100, 0, 1000))
	assert.EqualValues(t, 0, mulDiv3(100, 100, 100, 1000, 0))

	// a full-time share (1000/1000) reduces to plain mulDiv
	assert.Equal(t,
		mulDiv(123_456_789, 987_654_321, 555_555_555),
		mulDiv3(123_456_789, 987_654_321, 1000, 555_555_555, 1000))
}
