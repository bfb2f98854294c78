package indicator

// MACD computes the moving average convergence/divergence with the usual
// three outputs. The fast EMA is seeded over the window ending at the slow
// EMA's first output so both lines share a warm-up, and the signal EMA of the
// difference adds its own: all three outputs are NaN before index
// slow+signal-2 (33 for the 12/26/9 defaults).
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	n := len(closes)
	line, sig, hist = nans(n), nans(n), nans(n)

	start := slow - 1
	first := start + signal - 1
	if fast <= 0 || slow <= fast || signal <= 0 || n <= first {
		return
	}

	slowEMA := emaFrom(closes, slow, start)
	fastEMA := emaFrom(closes, fast, start)

	diff := make([]float64, n-start)
	for i := start; i < n; i++ {
		diff[i-start] = fastEMA[i] - slowEMA[i]
	}
	sigSeries := emaFrom(diff, signal, signal-1)

	for i := first; i < n; i++ {
		line[i] = diff[i-start]
		sig[i] = sigSeries[i-start]
		hist[i] = line[i] - sig[i]
	}
	return
}
