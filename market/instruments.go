package market

// Instrument is static metadata for a contract the bot knows how to trade.
type Instrument struct {
	Symbol     string
	Underlying string
	Quote      string
	Settle     string // settlement currency as the exchange names it
	TickSize   float64
	Inverse    bool // P&L settles in the underlying
}

var Instruments = map[string]Instrument{
	"XBTUSD": {
		Symbol:     "XBTUSD",
		Underlying: "XBT",
		Quote:      "USD",
		Settle:     "XBt",
		TickSize:   0.5,
		Inverse:    true,
	},
	"ETHUSD": {
		Symbol:     "ETHUSD",
		Underlying: "ETH",
		Quote:      "USD",
		Settle:     "XBt",
		TickSize:   0.05,
	},
}

// TickSize returns the known tick size for symbol, or fallback.
func TickSize(symbol string, fallback float64) float64 {
	if in, ok := Instruments[symbol]; ok && in.TickSize > 0 {
		return in.TickSize
	}
	return fallback
}
