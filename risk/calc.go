package risk

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk is the loss if the stop is hit, in quote currency.
func PlannedRisk(quantity, entry, stop float64) float64 {
	return abs(quantity) * abs(entry-stop)
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// Plan summarizes the money at stake in one bracket.
type Plan struct {
	Risk       float64
	Reward     float64
	RR         float64
	OverBudget bool // Risk exceeds Limits.RiskPerTrade
}

func NewPlan(l Limits, quantity, entry, takeProfit, stop float64) Plan {
	p := Plan{
		Risk:   PlannedRisk(quantity, entry, stop),
		Reward: PlannedRisk(quantity, entry, takeProfit),
		RR:     RR(entry, stop, takeProfit),
	}
	p.OverBudget = l.RiskPerTrade > 0 && p.Risk > l.RiskPerTrade
	return p
}
