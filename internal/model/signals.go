package model

// Signal taxonomy. The set is closed: the detector emits only these tags and
// the store never persists a tag outside it.
const (
	SignalRSIOversold          = "RSI_OVERSOLD"
	SignalRSIOverbought        = "RSI_OVERBOUGHT"
	SignalRSIDivergenceBullish = "RSI_DIVERGENCE_BULLISH"
	SignalRSIDivergenceBearish = "RSI_DIVERGENCE_BEARISH"

	SignalMACDBullishCross      = "MACD_BULLISH_CROSS"
	SignalMACDBearishCross      = "MACD_BEARISH_CROSS"
	SignalMACDZeroCrossUp       = "MACD_ZERO_CROSS_UP"
	SignalMACDZeroCrossDown     = "MACD_ZERO_CROSS_DOWN"
	SignalMACDDivergenceBullish = "MACD_DIVERGENCE_BULLISH"
	SignalMACDDivergenceBearish = "MACD_DIVERGENCE_BEARISH"

	SignalMAGoldenCross        = "MA_GOLDEN_CROSS"
	SignalMADeathCross         = "MA_DEATH_CROSS"
	SignalMABullishArrangement = "MA_BULLISH_ARRANGEMENT"
	SignalMABearishArrangement = "MA_BEARISH_ARRANGEMENT"
	SignalPriceAboveMA50       = "PRICE_ABOVE_MA50"
	SignalPriceBelowMA50       = "PRICE_BELOW_MA50"

	SignalBBUpperTouch      = "BB_UPPER_TOUCH"
	SignalBBLowerTouch      = "BB_LOWER_TOUCH"
	SignalBBMiddleCrossUp   = "BB_MIDDLE_CROSS_UP"
	SignalBBMiddleCrossDown = "BB_MIDDLE_CROSS_DOWN"
	SignalBBSqueeze         = "BB_SQUEEZE"
	SignalBBExpansion       = "BB_EXPANSION"

	SignalKDJOversold    = "KDJ_OVERSOLD"
	SignalKDJOverbought  = "KDJ_OVERBOUGHT"
	SignalKDJGoldenCross = "KDJ_GOLDEN_CROSS"
	SignalKDJDeathCross  = "KDJ_DEATH_CROSS"

	SignalStochOversold     = "STOCH_OVERSOLD"
	SignalStochOverbought   = "STOCH_OVERBOUGHT"
	SignalStochBullishCross = "STOCH_BULLISH_CROSS"
	SignalStochBearishCross = "STOCH_BEARISH_CROSS"

	SignalCCIOversold      = "CCI_OVERSOLD"
	SignalCCIOverbought    = "CCI_OVERBOUGHT"
	SignalCCIZeroCrossUp   = "CCI_ZERO_CROSS_UP"
	SignalCCIZeroCrossDown = "CCI_ZERO_CROSS_DOWN"

	SignalVolumeSpike = "VOLUME_SPIKE"
	SignalVolumeDry   = "VOLUME_DRY"
)

var signalTaxonomy = map[string]struct{}{
	SignalRSIOversold: {}, SignalRSIOverbought: {},
	SignalRSIDivergenceBullish: {}, SignalRSIDivergenceBearish: {},
	SignalMACDBullishCross: {}, SignalMACDBearishCross: {},
	SignalMACDZeroCrossUp: {}, SignalMACDZeroCrossDown: {},
	SignalMACDDivergenceBullish: {}, SignalMACDDivergenceBearish: {},
	SignalMAGoldenCross: {}, SignalMADeathCross: {},
	SignalMABullishArrangement: {}, SignalMABearishArrangement: {},
	SignalPriceAboveMA50: {}, SignalPriceBelowMA50: {},
	SignalBBUpperTouch: {}, SignalBBLowerTouch: {},
	SignalBBMiddleCrossUp: {}, SignalBBMiddleCrossDown: {},
	SignalBBSqueeze: {}, SignalBBExpansion: {},
	SignalKDJOversold: {}, SignalKDJOverbought: {},
	SignalKDJGoldenCross: {}, SignalKDJDeathCross: {},
	SignalStochOversold: {}, SignalStochOverbought: {},
	SignalStochBullishCross: {}, SignalStochBearishCross: {},
	SignalCCIOversold: {}, SignalCCIOverbought: {},
	SignalCCIZeroCrossUp: {}, SignalCCIZeroCrossDown: {},
	SignalVolumeSpike: {}, SignalVolumeDry: {},
}

// KnownSignal reports whether tag belongs to the closed taxonomy.
func KnownSignal(tag string) bool {
	_, ok := signalTaxonomy[tag]
	return ok
}
