package indicator

import "math"

// KDJ computes the KDJ oscillator.
//
//	RSV = (close - LL) / (HH - LL) * 100 over period bars
//	K   = (2/3)*prevK + (1/3)*RSV, seeded at 50
//	D   = (2/3)*prevD + (1/3)*K, seeded at 50
//	J   = 3K - 2D
//
// K holds its previous value on bars where RSV is undefined (warm-up or a
// flat window), while D keeps smoothing over every K. All three outputs are
// defined for every bar, so KDJ never serializes as null once data exists.
func KDJ(highs, lows, closes []float64, period, smooth int) (k, d, j []float64) {
	n := len(closes)
	k, d, j = nans(n), nans(n), nans(n)
	if period <= 0 || smooth <= 0 || n == 0 {
		return
	}

	hh := rollingMax(highs, period)
	ll := rollingMin(lows, period)

	w := float64(smooth)
	kv, dv := 50.0, 50.0
	for i := 0; i < n; i++ {
		rsv := math.NaN()
		if i >= period-1 {
			if diff := hh[i] - ll[i]; diff != 0 {
				rsv = (closes[i] - ll[i]) / diff * 100
			}
		}
		if !math.IsNaN(rsv) {
			kv = (w-1)/w*kv + rsv/w
		}
		dv = (w-1)/w*dv + kv/w
		k[i] = kv
		d[i] = dv
		j[i] = 3*kv - 2*dv
	}
	return
}
