package indicator

import (
	"signal-systemv1/internal/model"
)

// Calculator turns a window of candles into per-candle indicator sets.
// Stateless apart from its parameters, so a single instance is safe to share
// across symbols and timeframes.
type Calculator struct {
	params Params
}

// NewCalculator creates a calculator. Zero-valued params fall back to defaults.
func NewCalculator(params Params) *Calculator {
	if params.RSIPeriod == 0 {
		params = DefaultParams()
	}
	return &Calculator{params: params}
}

// Params returns the calculator's parameter set.
func (c *Calculator) Params() Params { return c.params }

// Compute calculates every configured indicator over candles (ascending by
// open time) and returns one set per candle. Warm-up positions hold nil
// pointers inside each set. Returns nil for an empty window.
func (c *Calculator) Compute(candles []model.Candle) []*model.IndicatorSet {
	n := len(candles)
	if n == 0 {
		return nil
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, cd := range candles {
		highs[i] = cd.High
		lows[i] = cd.Low
		closes[i] = cd.Close
	}

	p := c.params

	mas := make([][]float64, len(p.MAPeriods))
	for i, period := range p.MAPeriods {
		mas[i] = SMA(closes, period)
	}
	rsi := RSI(closes, p.RSIPeriod)
	macdLine, macdSig, macdHist := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	stochK, stochD := Stochastic(highs, lows, closes, p.StochK, p.StochSlowK, p.StochSlowD)
	bbUpper, bbMiddle, bbLower := Bollinger(closes, p.BBPeriod, p.BBWidth)
	cci := CCI(highs, lows, closes, p.CCIPeriod)
	kdjK, kdjD, kdjJ := KDJ(highs, lows, closes, p.KDJPeriod, p.KDJSmooth)
	skdjK, skdjD := Stochastic(highs, lows, closes, p.SKDJK, p.SKDJSlowK, p.SKDJSlowD)

	sets := make([]*model.IndicatorSet, n)
	for i := 0; i < n; i++ {
		set := &model.IndicatorSet{
			RSI: ptr(rsi[i]),
			CCI: ptr(cci[i]),
		}

		ma := &model.MASet{}
		for j, period := range p.MAPeriods {
			switch period {
			case 5:
				ma.MA5 = ptr(mas[j][i])
			case 10:
				ma.MA10 = ptr(mas[j][i])
			case 20:
				ma.MA20 = ptr(mas[j][i])
			case 50:
				ma.MA50 = ptr(mas[j][i])
			}
		}
		set.MA = ma

		set.MACD = &model.MACDSet{
			Line:      ptr(macdLine[i]),
			Signal:    ptr(macdSig[i]),
			Histogram: ptr(macdHist[i]),
		}
		set.Stochastic = &model.StochasticSet{
			K: ptr(stochK[i]),
			D: ptr(stochD[i]),
		}
		set.Bollinger = &model.BollingerSet{
			Upper:  ptr(bbUpper[i]),
			Middle: ptr(bbMiddle[i]),
			Lower:  ptr(bbLower[i]),
		}
		set.KDJ = &model.KDJSet{
			K: ptr(kdjK[i]),
			D: ptr(kdjD[i]),
			J: ptr(kdjJ[i]),
		}
		set.SKDJ = &model.StochasticSet{
			K: ptr(skdjK[i]),
			D: ptr(skdjD[i]),
		}

		sets[i] = set
	}
	return sets
}

// Latest computes indicators over the window and returns the set for the most
// recent candle, or nil for an empty window.
func (c *Calculator) Latest(candles []model.Candle) *model.IndicatorSet {
	sets := c.Compute(candles)
	if len(sets) == 0 {
		return nil
	}
	return sets[len(sets)-1]
}
