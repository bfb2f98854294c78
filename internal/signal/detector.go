// Package signal implements rule-based detection of technical signals over
// windows of indicator-enriched candles.
//
// Detection always targets the newest candle in the window: earlier rows
// supply the history that crossover and divergence rules compare against.
// Rows carry persisted indicator values, so a missing value means the
// indicator had not warmed up when the row was enriched; every rule treats
// missing values as "cannot fire", never as zero.
package signal

import (
	"signal-systemv1/internal/model"
)

// Thresholds holds the tunable levels for overbought/oversold rules.
type Thresholds struct {
	RSIOversold     float64
	RSIOverbought   float64
	StochOversold   float64
	StochOverbought float64
	CCIOversold     float64
	CCIOverbought   float64
	KDJOversold     float64
	KDJOverbought   float64
}

// DefaultThresholds returns the standard levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOversold:     30,
		RSIOverbought:   70,
		StochOversold:   20,
		StochOverbought: 80,
		CCIOversold:     -100,
		CCIOverbought:   100,
		KDJOversold:     0,
		KDJOverbought:   100,
	}
}

// Detector evaluates all signal families against a candle window.
type Detector struct {
	th Thresholds
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th}
}

// Detect runs every signal family against the window (ascending by open
// time) and returns the union for the newest candle, deduplicated in
// first-seen order. Families run in a fixed order: RSI, MACD, MA, Bollinger,
// KDJ, stochastic, CCI, volume.
func (d *Detector) Detect(window []model.Candle) []string {
	var all []string
	all = append(all, d.rsiSignals(window)...)
	all = append(all, d.macdSignals(window)...)
	all = append(all, d.maSignals(window)...)
	all = append(all, d.bollingerSignals(window)...)
	all = append(all, d.kdjSignals(window)...)
	all = append(all, d.stochasticSignals(window)...)
	all = append(all, d.cciSignals(window)...)
	all = append(all, d.volumeSignals(window)...)

	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (d *Detector) rsiSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	cur := rsiOf(w[len(w)-1])
	prev := rsiOf(w[len(w)-2])
	if cur == nil {
		return signals
	}

	if *cur < d.th.RSIOversold {
		signals = append(signals, model.SignalRSIOversold)
	} else if *cur > d.th.RSIOverbought {
		signals = append(signals, model.SignalRSIOverbought)
	}

	// Divergence wants real history and a comparable previous reading.
	if len(w) >= 10 && prev != nil {
		closes := lastCloses(w, 5)
		rsis := lastValues(w, 5, rsiOf)
		if len(rsis) >= 3 {
			if closes[len(closes)-1] < minOf(closes[:len(closes)-1]) &&
				rsis[len(rsis)-1] > minOf(rsis[:len(rsis)-1]) {
				signals = append(signals, model.SignalRSIDivergenceBullish)
			}
			if closes[len(closes)-1] > maxOf(closes[:len(closes)-1]) &&
				rsis[len(rsis)-1] < maxOf(rsis[:len(rsis)-1]) {
				signals = append(signals, model.SignalRSIDivergenceBearish)
			}
		}
	}
	return signals
}

func (d *Detector) macdSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	curSet := macdOf(w[len(w)-1])
	prevSet := macdOf(w[len(w)-2])
	if curSet == nil || prevSet == nil {
		return signals
	}
	line, sig := curSet.Line, curSet.Signal
	prevLine, prevSig := prevSet.Line, prevSet.Signal
	if line == nil || sig == nil || prevLine == nil || prevSig == nil {
		return signals
	}

	if *prevLine <= *prevSig && *line > *sig {
		signals = append(signals, model.SignalMACDBullishCross)
	} else if *prevLine >= *prevSig && *line < *sig {
		signals = append(signals, model.SignalMACDBearishCross)
	}

	if *prevLine <= 0 && *line > 0 {
		signals = append(signals, model.SignalMACDZeroCrossUp)
	} else if *prevLine >= 0 && *line < 0 {
		signals = append(signals, model.SignalMACDZeroCrossDown)
	}

	if len(w) >= 10 {
		closes := lastCloses(w, 5)
		lines := lastValues(w, 5, func(c model.Candle) *float64 {
			if set := macdOf(c); set != nil {
				return set.Line
			}
			return nil
		})
		if len(lines) >= 3 {
			if closes[len(closes)-1] < minOf(closes[:len(closes)-1]) &&
				lines[len(lines)-1] > minOf(lines[:len(lines)-1]) {
				signals = append(signals, model.SignalMACDDivergenceBullish)
			}
			if closes[len(closes)-1] > maxOf(closes[:len(closes)-1]) &&
				lines[len(lines)-1] < maxOf(lines[:len(lines)-1]) {
				signals = append(signals, model.SignalMACDDivergenceBearish)
			}
		}
	}
	return signals
}

func (d *Detector) maSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	cur := maOf(w[len(w)-1])
	prev := maOf(w[len(w)-2])
	if cur == nil || cur.MA5 == nil || cur.MA10 == nil || cur.MA20 == nil || cur.MA50 == nil {
		return signals
	}
	close := w[len(w)-1].Close

	var prevMA5, prevMA20 *float64
	if prev != nil {
		prevMA5, prevMA20 = prev.MA5, prev.MA20
	}
	if prevMA5 != nil && prevMA20 != nil {
		if *prevMA5 <= *prevMA20 && *cur.MA5 > *cur.MA20 {
			signals = append(signals, model.SignalMAGoldenCross)
		} else if *prevMA5 >= *prevMA20 && *cur.MA5 < *cur.MA20 {
			signals = append(signals, model.SignalMADeathCross)
		}
	}

	if *cur.MA5 > *cur.MA10 && *cur.MA10 > *cur.MA20 && *cur.MA20 > *cur.MA50 {
		signals = append(signals, model.SignalMABullishArrangement)
	} else if *cur.MA5 < *cur.MA10 && *cur.MA10 < *cur.MA20 && *cur.MA20 < *cur.MA50 {
		signals = append(signals, model.SignalMABearishArrangement)
	}

	if close > *cur.MA50 {
		signals = append(signals, model.SignalPriceAboveMA50)
	} else if close < *cur.MA50 {
		signals = append(signals, model.SignalPriceBelowMA50)
	}
	return signals
}

func (d *Detector) bollingerSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 20 {
		return signals
	}

	cur := bollingerOf(w[len(w)-1])
	close := w[len(w)-1].Close
	if cur == nil || cur.Upper == nil || cur.Middle == nil || cur.Lower == nil {
		return signals
	}

	// Band width history over the last 20 rows, current row included.
	var widths []float64
	for i := len(w) - 20; i < len(w); i++ {
		bb := bollingerOf(w[i])
		if bb == nil || bb.Upper == nil || bb.Lower == nil || *bb.Upper == 0 || *bb.Lower == 0 {
			continue
		}
		widths = append(widths, *bb.Upper-*bb.Lower)
	}
	if len(widths) >= 15 {
		avg := meanOf(widths[:len(widths)-1]) // current width excluded
		curWidth := *cur.Upper - *cur.Lower
		if curWidth < avg*0.8 {
			signals = append(signals, model.SignalBBSqueeze)
		} else if curWidth > avg*1.2 {
			signals = append(signals, model.SignalBBExpansion)
		}
	}

	// Touches allow a small tolerance around the band.
	if close >= *cur.Upper*0.995 {
		signals = append(signals, model.SignalBBUpperTouch)
	} else if close <= *cur.Lower*1.005 {
		signals = append(signals, model.SignalBBLowerTouch)
	}

	prevClose := w[len(w)-2].Close
	if prevBB := bollingerOf(w[len(w)-2]); prevBB != nil && prevBB.Middle != nil {
		if prevClose <= *prevBB.Middle && close > *cur.Middle {
			signals = append(signals, model.SignalBBMiddleCrossUp)
		} else if prevClose >= *prevBB.Middle && close < *cur.Middle {
			signals = append(signals, model.SignalBBMiddleCrossDown)
		}
	}
	return signals
}

func (d *Detector) kdjSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	cur := kdjOf(w[len(w)-1])
	if cur == nil || cur.K == nil || cur.D == nil || cur.J == nil {
		return signals
	}

	if *cur.J < d.th.KDJOversold {
		signals = append(signals, model.SignalKDJOversold)
	} else if *cur.J > d.th.KDJOverbought {
		signals = append(signals, model.SignalKDJOverbought)
	}

	if prev := kdjOf(w[len(w)-2]); prev != nil && prev.K != nil && prev.D != nil {
		if *prev.K <= *prev.D && *cur.K > *cur.D && *cur.J < 80 {
			signals = append(signals, model.SignalKDJGoldenCross)
		} else if *prev.K >= *prev.D && *cur.K < *cur.D && *cur.J > 20 {
			signals = append(signals, model.SignalKDJDeathCross)
		}
	}
	return signals
}

func (d *Detector) stochasticSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	cur := stochasticOf(w[len(w)-1])
	if cur == nil || cur.K == nil || cur.D == nil {
		return signals
	}

	if *cur.K < d.th.StochOversold && *cur.D < d.th.StochOversold {
		signals = append(signals, model.SignalStochOversold)
	} else if *cur.K > d.th.StochOverbought && *cur.D > d.th.StochOverbought {
		signals = append(signals, model.SignalStochOverbought)
	}

	if prev := stochasticOf(w[len(w)-2]); prev != nil && prev.K != nil && prev.D != nil {
		if *prev.K <= *prev.D && *cur.K > *cur.D && *cur.K < 80 {
			signals = append(signals, model.SignalStochBullishCross)
		} else if *prev.K >= *prev.D && *cur.K < *cur.D && *cur.K > 20 {
			signals = append(signals, model.SignalStochBearishCross)
		}
	}
	return signals
}

func (d *Detector) cciSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 2 {
		return signals
	}

	cur := cciOf(w[len(w)-1])
	prev := cciOf(w[len(w)-2])
	if cur == nil {
		return signals
	}

	if *cur < d.th.CCIOversold {
		signals = append(signals, model.SignalCCIOversold)
	} else if *cur > d.th.CCIOverbought {
		signals = append(signals, model.SignalCCIOverbought)
	}

	if prev != nil {
		if *prev <= 0 && *cur > 0 {
			signals = append(signals, model.SignalCCIZeroCrossUp)
		} else if *prev >= 0 && *cur < 0 {
			signals = append(signals, model.SignalCCIZeroCrossDown)
		}
	}
	return signals
}

func (d *Detector) volumeSignals(w []model.Candle) []string {
	var signals []string
	if len(w) < 20 {
		return signals
	}

	curVolume := w[len(w)-1].Volume
	var sum float64
	for i := len(w) - 20; i < len(w)-1; i++ { // current bar excluded
		sum += w[i].Volume
	}
	avg := sum / 19

	if curVolume > avg*2 {
		signals = append(signals, model.SignalVolumeSpike)
	} else if curVolume < avg*0.5 {
		signals = append(signals, model.SignalVolumeDry)
	}
	return signals
}

// ────────────────────────────────────────────────────────────
// Accessors and small math helpers
// ────────────────────────────────────────────────────────────

func rsiOf(c model.Candle) *float64 {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.RSI
}

func cciOf(c model.Candle) *float64 {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.CCI
}

func macdOf(c model.Candle) *model.MACDSet {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.MACD
}

func maOf(c model.Candle) *model.MASet {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.MA
}

func bollingerOf(c model.Candle) *model.BollingerSet {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.Bollinger
}

func kdjOf(c model.Candle) *model.KDJSet {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.KDJ
}

func stochasticOf(c model.Candle) *model.StochasticSet {
	if c.Indicators == nil {
		return nil
	}
	return c.Indicators.Stochastic
}

func lastCloses(w []model.Candle, n int) []float64 {
	out := make([]float64, 0, n)
	for i := len(w) - n; i < len(w); i++ {
		out = append(out, w[i].Close)
	}
	return out
}

// lastValues collects the non-nil values of get over the last n rows. Rows
// with missing values are dropped, so the result can be shorter than n and
// its positions need not line up with the close series. Callers compare only
// tails and extrema, where the looser alignment is acceptable.
func lastValues(w []model.Candle, n int, get func(model.Candle) *float64) []float64 {
	out := make([]float64, 0, n)
	for i := len(w) - n; i < len(w); i++ {
		if v := get(w[i]); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func meanOf(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
