package risk

// Limits are read once from configuration and never change at runtime.
type Limits struct {
	MaxDailyLoss float64 // absolute P&L cap for the day, account currency
	MaxPositions int     // open positions allowed for the symbol before entries stop
	RiskPerTrade float64 // loss budget for one bracket if its stop is hit
}

// Snapshot is the exchange state a gate decision is made on.
type Snapshot struct {
	DailyPnL      float64 // realized + unrealized
	OpenPositions int
}
