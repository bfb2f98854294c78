package model

import "encoding/json"

// IndicatorSet carries every derived indicator for one bar. Individual values
// are pointers: nil marks a value that could not be computed yet (warm-up) and
// is stored as JSON null. The whole set is nil until the engine has at least
// 50 bars of history.
//
// The JSON key layout is the persisted document shape; the query engine's
// dotted field paths (ma.ma_5, macd.macd_line, ...) resolve against it.
type IndicatorSet struct {
	MA         *MASet         `json:"ma"`
	RSI        *float64       `json:"rsi"`
	MACD       *MACDSet       `json:"macd"`
	Stochastic *StochasticSet `json:"stochastic"`
	Bollinger  *BollingerSet  `json:"bollinger"`
	CCI        *float64       `json:"cci"`
	KDJ        *KDJSet        `json:"kdj"`
	SKDJ       *StochasticSet `json:"skdj"`
}

// MASet holds the simple moving averages over the configured periods.
type MASet struct {
	MA5  *float64 `json:"ma_5"`
	MA10 *float64 `json:"ma_10"`
	MA20 *float64 `json:"ma_20"`
	MA50 *float64 `json:"ma_50"`
}

// MACDSet holds the MACD line, its signal line and the histogram (line-signal).
type MACDSet struct {
	Line      *float64 `json:"macd_line"`
	Signal    *float64 `json:"macd_signal"`
	Histogram *float64 `json:"macd_histogram"`
}

// StochasticSet holds slow stochastic %K and %D. It doubles as the slow-KD
// ("skdj") block, which uses the same shape with shorter periods.
type StochasticSet struct {
	K *float64 `json:"k"`
	D *float64 `json:"d"`
}

// BollingerSet holds the Bollinger band levels.
type BollingerSet struct {
	Upper  *float64 `json:"upper"`
	Middle *float64 `json:"middle"`
	Lower  *float64 `json:"lower"`
}

// KDJSet holds the KDJ oscillator values.
type KDJSet struct {
	K *float64 `json:"k"`
	D *float64 `json:"d"`
	J *float64 `json:"j"`
}

// JSON returns the persisted document encoding of the set.
func (s *IndicatorSet) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Float returns a pointer to v. Convenience for building indicator sets.
func Float(v float64) *float64 { return &v }
