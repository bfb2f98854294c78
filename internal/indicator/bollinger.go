package indicator

import "math"

// Bollinger computes Bollinger Bands: a period-bar simple moving average as
// the middle band with upper/lower bands width standard deviations away.
// Deviation is the population form (divide by period, not period-1).
func Bollinger(closes []float64, period int, width float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper, middle, lower = nans(n), nans(n), nans(n)
	if period <= 0 || n < period {
		return
	}

	middle = SMA(closes, period)
	for i := period - 1; i < n; i++ {
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - middle[i]
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
	}
	return
}
