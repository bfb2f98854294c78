// Package indicator provides technical indicator calculations over candle data.
//
// All functions operate on full ascending series and return slices aligned to
// the input: positions before an indicator's lookback hold math.NaN(). The
// Calculator converts series output into per-candle indicator sets, mapping
// NaN to nil so leading warm-up values serialize as JSON null.
package indicator

import "math"

// Params holds the periods for every computed indicator.
type Params struct {
	MAPeriods  []int // simple moving averages, one output per period
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	StochK     int // fastk window
	StochSlowK int // slowk smoothing
	StochSlowD int // slowd smoothing
	BBPeriod   int
	BBWidth    float64 // standard deviations above/below the middle band
	CCIPeriod  int
	KDJPeriod  int // RSV window
	KDJSmooth  int // K and D smoothing factor
	SKDJK      int
	SKDJSlowK  int
	SKDJSlowD  int
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		MAPeriods:  []int{5, 10, 20, 50},
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		StochK:     14,
		StochSlowK: 3,
		StochSlowD: 3,
		BBPeriod:   20,
		BBWidth:    2.0,
		CCIPeriod:  20,
		KDJPeriod:  9,
		KDJSmooth:  3,
		SKDJK:      9,
		SKDJSlowK:  3,
		SKDJSlowD:  3,
	}
}

// MaxLookback returns the longest warm-up any indicator in p needs before its
// first value, in bars. Useful for sizing fetch windows.
func (p Params) MaxLookback() int {
	max := p.MACDSlow + p.MACDSignal - 2 // MACD aligns all outputs to this
	for _, n := range p.MAPeriods {
		if n-1 > max {
			max = n - 1
		}
	}
	if lb := p.StochK + p.StochSlowK + p.StochSlowD - 3; lb > max {
		max = lb
	}
	return max
}

// nans returns a slice of n NaN values.
func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// ptr converts a series value to a pointer, mapping NaN to nil.
func ptr(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
