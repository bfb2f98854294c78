package indicator

import "math"

// CCI computes the commodity channel index over the typical price
// (high+low+close)/3:
//
//	CCI = (TP - SMA(TP, period)) / (0.015 * meanDeviation)
//
// where meanDeviation is the mean absolute distance of the window's typical
// prices from the window's own SMA. A zero deviation yields 0.
func CCI(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nans(n)
	if period <= 0 || n < period {
		return out
	}

	tp := make([]float64, n)
	for i := range tp {
		tp[i] = (highs[i] + lows[i] + closes[i]) / 3
	}
	sma := SMA(tp, period)

	for i := period - 1; i < n; i++ {
		var dev float64
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - sma[i])
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - sma[i]) / (0.015 * dev)
	}
	return out
}
