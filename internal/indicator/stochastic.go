package indicator

// Stochastic computes the slow stochastic oscillator.
//
//	FastK = (close - LL) / (HH - LL) * 100 over kPeriod bars
//	SlowK = SMA(FastK, slowK)
//	SlowD = SMA(SlowK, slowD)
//
// Both outputs are aligned to the total lookback kPeriod+slowK+slowD-3, so
// SlowK positions that already have a value but no matching SlowD stay NaN.
// A flat window (HH == LL) yields FastK = 0.
func Stochastic(highs, lows, closes []float64, kPeriod, slowK, slowD int) (k, d []float64) {
	n := len(closes)
	k, d = nans(n), nans(n)
	first := kPeriod + slowK + slowD - 3
	if kPeriod <= 0 || slowK <= 0 || slowD <= 0 || n <= first {
		return
	}

	fastK := nans(n)
	hh := rollingMax(highs, kPeriod)
	ll := rollingMin(lows, kPeriod)
	for i := kPeriod - 1; i < n; i++ {
		diff := hh[i] - ll[i]
		if diff == 0 {
			fastK[i] = 0
			continue
		}
		fastK[i] = (closes[i] - ll[i]) / diff * 100
	}

	slowKSeries := smaFrom(fastK, slowK, kPeriod-1)
	slowDSeries := smaFrom(slowKSeries, slowD, kPeriod+slowK-2)

	for i := first; i < n; i++ {
		k[i] = slowKSeries[i]
		d[i] = slowDSeries[i]
	}
	return
}

// smaFrom averages period values of a series whose first valid index is from.
func smaFrom(values []float64, period, from int) []float64 {
	out := nans(len(values))
	for i := from + period - 1; i < len(values); i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// rollingMax returns the window maximum ending at each index; positions
// before a full window hold NaN.
func rollingMax(values []float64, period int) []float64 {
	out := nans(len(values))
	for i := period - 1; i < len(values); i++ {
		m := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if values[j] > m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}

// rollingMin returns the window minimum ending at each index.
func rollingMin(values []float64, period int) []float64 {
	out := nans(len(values))
	for i := period - 1; i < len(values); i++ {
		m := values[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if values[j] < m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}
