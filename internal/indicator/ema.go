package indicator

// EMA computes the exponential moving average of values with the given period.
// The first output, at index period-1, is seeded with the simple average of
// the first period values; later values follow the standard recurrence
// EMA = price*k + prev*(1-k) with k = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	return emaFrom(values, period, period-1)
}

// emaFrom computes an EMA whose first output lands at index start, seeded with
// the simple average of the period values ending at start. MACD uses this to
// align its fast EMA with the slow EMA's warm-up.
func emaFrom(values []float64, period, start int) []float64 {
	out := nans(len(values))
	if period <= 0 || start < period-1 || start >= len(values) {
		return out
	}

	var sum float64
	for i := start - period + 1; i <= start; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[start] = prev

	k := 2.0 / float64(period+1)
	for i := start + 1; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}
