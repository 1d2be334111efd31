package paymentgateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// GatewayError is a transport failure or a rejected call. StatusCode is zero
// when no response was received.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, truncate(e.Body, 512))
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type ConversionError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert amount %s to minor units: %s", e.Amount.String(), e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
