package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle represents one OHLCV bar for a symbol and timeframe, plus the
// derived indicator and signal fields written back after computation.
// The natural key is (Symbol, Timeframe, OpenTime).
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"timestamp"` // bar open time (UTC, timeframe-aligned)

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	// Indicators is nil until the indicator engine has seen enough history.
	Indicators *IndicatorSet `json:"indicators,omitempty"`
	// Signals holds taxonomy tags attached to this bar, never nil after ingest.
	Signals []string `json:"signals"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Key returns a unique key for this bar: "symbol:timeframe:open_ms".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe + ":" + strconv.FormatInt(c.OpenTime.UnixMilli(), 10)
}

// PairKey returns "symbol:timeframe", identifying the series this bar belongs to.
func (c *Candle) PairKey() string {
	return c.Symbol + ":" + c.Timeframe
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// HasSignal reports whether the bar carries the given taxonomy tag.
func (c *Candle) HasSignal(tag string) bool {
	for _, s := range c.Signals {
		if s == tag {
			return true
		}
	}
	return false
}

// timeframeDurations maps the supported timeframe labels to bar lengths.
var timeframeDurations = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// TimeframeDuration returns the bar length for a timeframe label and whether
// the label is one of the supported set {5m, 15m, 1h, 1d}.
func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframeDurations[tf]
	return d, ok
}

// ValidTimeframe reports whether tf is one of the supported labels.
func ValidTimeframe(tf string) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// AlignOpenTime truncates t down to the bar boundary for tf. Daily bars are
// aligned to 00:00 UTC.
func AlignOpenTime(t time.Time, tf string) time.Time {
	d, ok := timeframeDurations[tf]
	if !ok {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}
