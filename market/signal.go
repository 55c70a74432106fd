package market

import (
	"fmt"
	"strings"
)

// Side is the direction of a position.
type Side int

const (
	Long Side = iota + 1
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return 0, fmt.Errorf("unknown side %q (want long|short)", s)
	}
}

// Signal is the crossover classification of one bar.
type Signal int

const (
	None Signal = iota
	GoldenCross
	DeathCross
)

func (s Signal) String() string {
	switch s {
	case GoldenCross:
		return "GOLDEN_CROSS"
	case DeathCross:
		return "DEATH_CROSS"
	default:
		return "NONE"
	}
}

// Side maps a cross to the position it opens. None has no side.
func (s Signal) Side() (Side, bool) {
	switch s {
	case GoldenCross:
		return Long, true
	case DeathCross:
		return Short, true
	default:
		return 0, false
	}
}
