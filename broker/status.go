package broker

import "strings"

// OrderStatus is the exchange-reported state of an order. The manager reports
// these as received; it never advances them locally.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
	StatusUnknown         OrderStatus = "unknown"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired},
	StatusPartiallyFilled: {StatusFilled, StatusCanceled, StatusExpired},
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the exchange may move an order from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus normalizes exchange vocabularies ("New", "PartiallyFilled",
// "closed", "cancelled", ...) to an OrderStatus.
func ParseOrderStatus(s string) OrderStatus {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	switch k {
	case "new", "open", "pendingnew", "untriggered", "triggered":
		return StatusOpen
	case "partiallyfilled", "partial":
		return StatusPartiallyFilled
	case "filled", "closed":
		return StatusFilled
	case "canceled", "cancelled", "pendingcancel":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}
