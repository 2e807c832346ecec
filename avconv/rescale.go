// rescale.go reimplements libav's av_rescale_q for timestamp conversion
// between time bases.

package avconv

import (
	"math"
	"math/big"

	"github.com/asticode/go-astiav"
)

// Rescale converts a timestamp from one time base to another:
// the result is t * src / dst, rounded to the nearest representable
// value with ties away from zero (matching AV_ROUND_NEAR_INF).
//
// The NOPTS sentinel is passed through unchanged.
func Rescale(t int64, src, dst astiav.Rational) int64 {
	if uint64(t) == avNoPTSValue {
		return t
	}

	b := int64(src.Num()) * int64(dst.Den())
	c := int64(src.Den()) * int64(dst.Num())
	return rescaleRoundNearInf(t, b, c)
}

// rescaleRoundNearInf computes round(a*b/c) without intermediate overflow.
func rescaleRoundNearInf(a, b, c int64) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	den := big.NewInt(c)

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))

	doubledRemainder := new(big.Int).Abs(r)
	doubledRemainder.Mul(doubledRemainder, big.NewInt(2))
	if doubledRemainder.Cmp(new(big.Int).Abs(den)) >= 0 {
		if (num.Sign() < 0) != (den.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}

	if !q.IsInt64() {
		if q.Sign() > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return q.Int64()
}
