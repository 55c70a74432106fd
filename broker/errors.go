package broker

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned when an order id is absent from the symbol's order list.
var ErrOrderNotFound = errors.New("order not found")

// InitError means the exchange could not be set up. It is fatal at startup.
type InitError struct {
	Exchange string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: init: %v", e.Exchange, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// TransportError is any network, auth or HTTP failure talking to the exchange.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from the exchange transport.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
