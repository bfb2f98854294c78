package signal

import (
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

func bar(close, volume float64) model.Candle {
	return model.Candle{
		Symbol:    "BTC",
		Timeframe: "1h",
		OpenTime:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    volume,
	}
}

func window(n int, close float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = bar(close, 100)
	}
	return out
}

func has(signals []string, tag string) bool {
	for _, s := range signals {
		if s == tag {
			return true
		}
	}
	return false
}

func f(v float64) *float64 { return model.Float(v) }

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSISignals_Thresholds(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	cases := []struct {
		rsi    float64
		expect string
	}{
		{25, model.SignalRSIOversold},
		{75, model.SignalRSIOverbought},
		{50, ""},
	}
	for _, tc := range cases {
		w := window(2, 100)
		w[0].Indicators = &model.IndicatorSet{RSI: f(50)}
		w[1].Indicators = &model.IndicatorSet{RSI: f(tc.rsi)}
		got := d.rsiSignals(w)
		if tc.expect == "" {
			if len(got) != 0 {
				t.Errorf("rsi=%.0f: expected no signals, got %v", tc.rsi, got)
			}
			continue
		}
		if !has(got, tc.expect) {
			t.Errorf("rsi=%.0f: expected %s, got %v", tc.rsi, tc.expect, got)
		}
	}
}

func TestRSISignals_MissingCurrentValue(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = &model.IndicatorSet{RSI: f(25)}
	// Current row never enriched.
	if got := d.rsiSignals(w); len(got) != 0 {
		t.Errorf("expected no signals without a current RSI, got %v", got)
	}
}

func TestRSISignals_BullishDivergence(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	// Price makes a strict new low over the last five bars while RSI stays
	// above its own recent low.
	closes := []float64{110, 110, 110, 110, 110, 102, 101, 103, 104, 100}
	rsis := []float64{50, 50, 50, 50, 50, 35, 28, 40, 42, 33}
	w := make([]model.Candle, len(closes))
	for i := range w {
		w[i] = bar(closes[i], 100)
		w[i].Indicators = &model.IndicatorSet{RSI: f(rsis[i])}
	}

	got := d.rsiSignals(w)
	if !has(got, model.SignalRSIDivergenceBullish) {
		t.Errorf("expected bullish divergence, got %v", got)
	}
	if has(got, model.SignalRSIDivergenceBearish) {
		t.Errorf("did not expect bearish divergence, got %v", got)
	}

	// Same shape with only 9 rows stays quiet: divergence wants history.
	if got := d.rsiSignals(w[1:]); has(got, model.SignalRSIDivergenceBullish) {
		t.Errorf("expected no divergence with 9 rows, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACDSignals_BullishCrossAndZeroCross(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = &model.IndicatorSet{
		MACD: &model.MACDSet{Line: f(-0.5), Signal: f(0.2), Histogram: f(-0.7)},
	}
	w[1].Indicators = &model.IndicatorSet{
		MACD: &model.MACDSet{Line: f(0.3), Signal: f(0.1), Histogram: f(0.2)},
	}

	got := d.macdSignals(w)
	if !has(got, model.SignalMACDBullishCross) {
		t.Errorf("expected bullish cross, got %v", got)
	}
	if !has(got, model.SignalMACDZeroCrossUp) {
		t.Errorf("expected zero cross up, got %v", got)
	}
	if has(got, model.SignalMACDBearishCross) || has(got, model.SignalMACDZeroCrossDown) {
		t.Errorf("unexpected bearish signals: %v", got)
	}
}

func TestMACDSignals_MissingPrevSetSuppressesAll(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(10, 100)
	for i := range w {
		w[i].Indicators = &model.IndicatorSet{
			MACD: &model.MACDSet{Line: f(1), Signal: f(0.5), Histogram: f(0.5)},
		}
	}
	w[len(w)-2].Indicators = nil

	if got := d.macdSignals(w); len(got) != 0 {
		t.Errorf("expected no MACD signals without the previous set, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Moving averages
// ────────────────────────────────────────────────────────────

func TestMASignals_CrossArrangementAndPrice(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[1].Close = 13
	w[0].Indicators = &model.IndicatorSet{
		MA: &model.MASet{MA5: f(10), MA10: f(10.5), MA20: f(11), MA50: f(10.8)},
	}
	w[1].Indicators = &model.IndicatorSet{
		MA: &model.MASet{MA5: f(12), MA10: f(11.8), MA20: f(11.5), MA50: f(11)},
	}

	got := d.maSignals(w)
	if !has(got, model.SignalMAGoldenCross) {
		t.Errorf("expected golden cross, got %v", got)
	}
	if !has(got, model.SignalMABullishArrangement) {
		t.Errorf("expected bullish arrangement, got %v", got)
	}
	if !has(got, model.SignalPriceAboveMA50) {
		t.Errorf("expected price above MA50, got %v", got)
	}
}

func TestMASignals_RequireAllFourAverages(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = &model.IndicatorSet{
		MA: &model.MASet{MA5: f(10), MA10: f(10.5), MA20: f(11), MA50: f(10.8)},
	}
	w[1].Indicators = &model.IndicatorSet{
		MA: &model.MASet{MA5: f(12), MA10: f(11.8), MA20: f(11.5)}, // MA50 missing
	}

	if got := d.maSignals(w); len(got) != 0 {
		t.Errorf("expected no MA signals with a missing average, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger bands
// ────────────────────────────────────────────────────────────

func bb(upper, middle, lower float64) *model.IndicatorSet {
	return &model.IndicatorSet{
		Bollinger: &model.BollingerSet{Upper: f(upper), Middle: f(middle), Lower: f(lower)},
	}
}

func TestBollingerSignals_SqueezeTouchAndCross(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(20, 99)
	for i := 0; i < 19; i++ {
		w[i].Indicators = bb(105, 100, 95) // width 10
	}
	w[19].Indicators = bb(102.5, 100, 97.5) // width 5 < 0.8 * 10
	w[19].Close = 102.5                     // >= upper*0.995, > middle
	w[18].Close = 99                        // <= prev middle

	got := d.bollingerSignals(w)
	if !has(got, model.SignalBBSqueeze) {
		t.Errorf("expected squeeze, got %v", got)
	}
	if !has(got, model.SignalBBUpperTouch) {
		t.Errorf("expected upper touch, got %v", got)
	}
	if !has(got, model.SignalBBMiddleCrossUp) {
		t.Errorf("expected middle cross up, got %v", got)
	}
	if has(got, model.SignalBBExpansion) || has(got, model.SignalBBLowerTouch) {
		t.Errorf("unexpected signals: %v", got)
	}
}

func TestBollingerSignals_NeedTwentyRows(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(19, 100)
	for i := range w {
		w[i].Indicators = bb(105, 100, 95)
	}
	if got := d.bollingerSignals(w); len(got) != 0 {
		t.Errorf("expected no signals with 19 rows, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// KDJ
// ────────────────────────────────────────────────────────────

func kdj(k, dv, j float64) *model.IndicatorSet {
	return &model.IndicatorSet{KDJ: &model.KDJSet{K: f(k), D: f(dv), J: f(j)}}
}

func TestKDJSignals_GoldenCross(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = kdj(48, 50, 45)
	w[1].Indicators = kdj(55, 52, 60)

	got := d.kdjSignals(w)
	if !has(got, model.SignalKDJGoldenCross) {
		t.Errorf("expected golden cross, got %v", got)
	}
	if has(got, model.SignalKDJOversold) || has(got, model.SignalKDJOverbought) {
		t.Errorf("unexpected threshold signals: %v", got)
	}
}

func TestKDJSignals_JExtremes(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	w := window(2, 100)
	w[0].Indicators = kdj(20, 25, 10)
	w[1].Indicators = kdj(10, 15, -5)
	if got := d.kdjSignals(w); !has(got, model.SignalKDJOversold) {
		t.Errorf("expected oversold at J=-5, got %v", got)
	}

	w[1].Indicators = kdj(90, 85, 105)
	if got := d.kdjSignals(w); !has(got, model.SignalKDJOverbought) {
		t.Errorf("expected overbought at J=105, got %v", got)
	}
}

func TestKDJSignals_CrossSuppressedAtExtremes(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	// Golden cross shape but J at 85 blocks it.
	w := window(2, 100)
	w[0].Indicators = kdj(48, 50, 70)
	w[1].Indicators = kdj(55, 52, 85)
	if got := d.kdjSignals(w); has(got, model.SignalKDJGoldenCross) {
		t.Errorf("expected cross suppressed at J=85, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func stoch(k, dv float64) *model.IndicatorSet {
	return &model.IndicatorSet{Stochastic: &model.StochasticSet{K: f(k), D: f(dv)}}
}

func TestStochasticSignals_OversoldNeedsBothLines(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = stoch(25, 25)
	w[1].Indicators = stoch(15, 18)
	if got := d.stochasticSignals(w); !has(got, model.SignalStochOversold) {
		t.Errorf("expected oversold, got %v", got)
	}

	// K below 20 but D above: no signal.
	w[1].Indicators = stoch(15, 25)
	if got := d.stochasticSignals(w); has(got, model.SignalStochOversold) {
		t.Errorf("expected no oversold with D=25, got %v", got)
	}
}

func TestStochasticSignals_BullishCross(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	w := window(2, 100)
	w[0].Indicators = stoch(30, 32)
	w[1].Indicators = stoch(40, 35)
	if got := d.stochasticSignals(w); !has(got, model.SignalStochBullishCross) {
		t.Errorf("expected bullish cross, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// CCI
// ────────────────────────────────────────────────────────────

func cci(v float64) *model.IndicatorSet {
	return &model.IndicatorSet{CCI: f(v)}
}

func TestCCISignals(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	w := window(2, 100)
	w[0].Indicators = cci(-50)
	w[1].Indicators = cci(-150)
	got := d.cciSignals(w)
	if !has(got, model.SignalCCIOversold) {
		t.Errorf("expected oversold, got %v", got)
	}
	if has(got, model.SignalCCIZeroCrossUp) || has(got, model.SignalCCIZeroCrossDown) {
		t.Errorf("unexpected zero cross: %v", got)
	}

	w[0].Indicators = cci(-10)
	w[1].Indicators = cci(20)
	if got := d.cciSignals(w); !has(got, model.SignalCCIZeroCrossUp) {
		t.Errorf("expected zero cross up, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Volume
// ────────────────────────────────────────────────────────────

func TestVolumeSignals(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	mk := func(current float64) []model.Candle {
		w := window(20, 100)
		w[19].Volume = current
		return w
	}

	if got := d.volumeSignals(mk(250)); !has(got, model.SignalVolumeSpike) {
		t.Errorf("expected spike at 2.5x average, got %v", got)
	}
	if got := d.volumeSignals(mk(40)); !has(got, model.SignalVolumeDry) {
		t.Errorf("expected dry at 0.4x average, got %v", got)
	}
	if got := d.volumeSignals(mk(150)); len(got) != 0 {
		t.Errorf("expected no volume signals at 1.5x average, got %v", got)
	}
	if got := d.volumeSignals(window(19, 100)); len(got) != 0 {
		t.Errorf("expected no volume signals with 19 rows, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Detect
// ────────────────────────────────────────────────────────────

func TestDetect_FamilyOrder(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	w := window(20, 100)
	w[19].Volume = 250 // spike
	w[18].Indicators = &model.IndicatorSet{RSI: f(50), CCI: f(-10)}
	w[19].Indicators = &model.IndicatorSet{RSI: f(25), CCI: f(20)}

	got := d.Detect(w)
	want := []string{model.SignalRSIOversold, model.SignalCCIZeroCrossUp, model.SignalVolumeSpike}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestDetect_EmptyWindow(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	if got := d.Detect(nil); len(got) != 0 {
		t.Errorf("expected no signals for empty window, got %v", got)
	}
	if got := d.Detect(window(1, 100)); len(got) != 0 {
		t.Errorf("expected no signals for single row, got %v", got)
	}
}
