package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
)

func testClient() *Client {
	return NewClient(Config{
		Timeout:     5 * time.Second,
		PauseMs:     100,
		SymbolPairs: map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT"},
	})
}

func TestPairMapping(t *testing.T) {
	c := testClient()
	if got := c.PairFor("BTC"); got != "BTCUSDT" {
		t.Errorf("PairFor(BTC) = %q, want BTCUSDT", got)
	}
	if got := c.PairFor("DOGE"); got != "" {
		t.Errorf("PairFor(DOGE) = %q, want empty", got)
	}
}

func TestFetchUnknownSymbol(t *testing.T) {
	c := testClient()
	_, err := c.FetchRecentOHLCV(context.Background(), "DOGE", "1h", 5)
	if err == nil {
		t.Fatal("expected error for unconfigured symbol")
	}
	if KindOf(err) != KindBadSymbol {
		t.Errorf("kind = %q, want %q", KindOf(err), KindBadSymbol)
	}
}

func TestKlineToCandle(t *testing.T) {
	k := &binance.Kline{
		OpenTime: 1700000000000,
		Open:     "35000.5",
		High:     "35100",
		Low:      "34900",
		Close:    "35050.25",
		Volume:   "123.45",
	}
	c, err := klineToCandle("BTC", "1h", k)
	if err != nil {
		t.Fatalf("klineToCandle: %v", err)
	}
	if c.Symbol != "BTC" || c.Timeframe != "1h" {
		t.Errorf("identity = %s/%s", c.Symbol, c.Timeframe)
	}
	if c.OpenTime.UnixMilli() != 1700000000000 {
		t.Errorf("open time = %v", c.OpenTime)
	}
	if c.Open != 35000.5 || c.Close != 35050.25 || c.Volume != 123.45 {
		t.Errorf("values = %+v", c)
	}
}

func TestKlineToCandleBadData(t *testing.T) {
	k := &binance.Kline{OpenTime: 1700000000000, Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1"}
	if _, err := klineToCandle("BTC", "1h", k); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClassify(t *testing.T) {
	if got := classify(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("deadline: kind = %q, want %q", got, KindTimeout)
	}
}
