package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusSuccess, StatusFailed, StatusCancelled},
	StatusSuccess: {StatusRefunded},
}

// InvalidTransitionError is returned for any move outside the ledger's
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid payment transition from %s to %s", e.From, e.To)
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SuccessDetails is what the gateway tells us about a settled charge.
type SuccessDetails struct {
	GatewayReference  string
	AuthorizationCode string
	Channel           string
	PaymentMethod     string
	Raw               json.RawMessage
}

func (p *Payment) transition(to Status) error {
	if !CanTransition(p.Status, to) {
		return &InvalidTransitionError{From: p.Status, To: to}
	}
	p.Status = to
	return nil
}

func (p *Payment) MarkSuccessful(d SuccessDetails, now time.Time) error {
	if err := p.transition(StatusSuccess); err != nil {
		return err
	}
	p.CompletedAt = &now
	if d.GatewayReference != "" {
		ref := d.GatewayReference
		p.GatewayReference = &ref
	}
	p.AuthorizationCode = d.AuthorizationCode
	p.Channel = d.Channel
	p.PaymentMethod = d.PaymentMethod
	if len(d.Raw) > 0 {
		p.GatewayResponse = datatypes.JSON(d.Raw)
	}
	return nil
}

func (p *Payment) MarkFailed(raw json.RawMessage, now time.Time) error {
	if err := p.transition(StatusFailed); err != nil {
		return err
	}
	p.CompletedAt = &now
	if len(raw) > 0 {
		p.GatewayResponse = datatypes.JSON(raw)
	}
	return nil
}

func (p *Payment) MarkCancelled(now time.Time) error {
	if err := p.transition(StatusCancelled); err != nil {
		return err
	}
	p.CompletedAt = &now
	return nil
}

// MarkRefunded keeps completed_at from the original settlement.
func (p *Payment) MarkRefunded(raw json.RawMessage) error {
	if err := p.transition(StatusRefunded); err != nil {
		return err
	}
	if len(raw) > 0 {
		p.GatewayResponse = datatypes.JSON(raw)
	}
	return nil
}

var currencySymbols = map[string]string{
	"NGN": "₦",
	"GHS": "GH₵",
	"USD": "$",
	"ZAR": "R",
	"KES": "KSh",
}

// FormatAmount renders an amount with its currency glyph, comma grouping and
// two decimal places, e.g. ₦3,000.00.
func FormatAmount(amount decimal.Decimal, currency string) string {
	symbol, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		symbol = strings.ToUpper(currency) + " "
	}

	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + symbol + b.String() + "." + frac
}
