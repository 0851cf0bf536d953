// Package vector computes truncating int64 averages with an in-band overflow sentinel.
package vector

import "math"

// OverflowSentinel is returned instead of an average when the running sum leaves the int64 range.
const OverflowSentinel int64 = math.MinInt64

// Accumulator sums int64 elements in order and records the first overflow.
//
// Once overflowed, further Add calls only count elements; the sum is no longer meaningful.
// The zero value is ready to use.
type Accumulator struct {
	sum      int64
	n        uint64
	overflow bool
}

// Add folds v into the running sum.
func (a *Accumulator) Add(v int64) {
	a.n++
	if a.overflow {
		return
	}
	if (v > 0 && a.sum > math.MaxInt64-v) || (v < 0 && a.sum < math.MinInt64-v) {
		a.overflow = true
		return
	}
	a.sum += v
}

// Overflowed reports whether any Add pushed the sum out of range.
func (a *Accumulator) Overflowed() bool { return a.overflow }

// Count returns the number of elements added so far.
func (a *Accumulator) Count() uint64 { return a.n }

// Average returns sum/count truncated toward zero, 0 for an empty accumulator,
// or OverflowSentinel if the sum overflowed.
func (a *Accumulator) Average() int64 {
	switch {
	case a.overflow:
		return OverflowSentinel
	case a.n == 0:
		return 0
	}
	// n is bounded by the protocol's vector size limit, well inside int64.
	return a.sum / int64(a.n) // #nosec G115 -- n <= MaxVectorSize upstream.
}

// Reset clears the accumulator for reuse.
func (a *Accumulator) Reset() { *a = Accumulator{} }

// Average returns the truncating average of values, or OverflowSentinel on overflow.
func Average(values []int64) int64 {
	var acc Accumulator
	for _, v := range values {
		acc.Add(v)
		if acc.overflow {
			return OverflowSentinel
		}
	}
	return acc.Average()
}
