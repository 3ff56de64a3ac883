// Package capability declares, for every payment method, which Gateway
// features it supports. Callers consult it before issuing a request that is
// bound to fail.
//
// The table is exhaustive: every method has an Entry with every field set
// explicitly and a description for every capability. A new method is not
// usable until both are declared.
package capability

import (
	"fmt"
	"strings"
)

type PaymentMethod string

const (
	OrangeMoney PaymentMethod = "ORANGE_MONEY"
	Wave        PaymentMethod = "WAVE"
	Moov        PaymentMethod = "MOOV"
	Card        PaymentMethod = "CARD"
	Visa        PaymentMethod = "VISA"
	Mastercard  PaymentMethod = "MASTERCARD"
	GIMUEMOA    PaymentMethod = "GIM_UEMOA"
)

type Capability string

const (
	Payments       Capability = "payments"
	PaymentLinks   Capability = "payment_links"
	QRCode         Capability = "qr_code"
	Payouts        Capability = "payouts"
	Withdrawals    Capability = "withdrawals"
	RequestToPay   Capability = "request_to_pay"
	Splits         Capability = "splits"
	CustomerPortal Capability = "customer_portal"
)

// Entry is one row of the matrix.
type Entry struct {
	PaymentMethod  PaymentMethod
	Payments       bool
	PaymentLinks   bool
	QRCode         bool
	Payouts        bool
	Withdrawals    bool
	RequestToPay   bool
	Splits         bool
	CustomerPortal bool
}

// Has reports the entry's value for c. Unknown capabilities are unsupported.
func (e Entry) Has(c Capability) bool {
	switch c {
	case Payments:
		return e.Payments
	case PaymentLinks:
		return e.PaymentLinks
	case QRCode:
		return e.QRCode
	case Payouts:
		return e.Payouts
	case Withdrawals:
		return e.Withdrawals
	case RequestToPay:
		return e.RequestToPay
	case Splits:
		return e.Splits
	case CustomerPortal:
		return e.CustomerPortal
	}
	return false
}

var allMethods = []PaymentMethod{OrangeMoney, Wave, Moov, Card, Visa, Mastercard, GIMUEMOA}

var allCapabilities = []Capability{
	Payments, PaymentLinks, QRCode, Payouts, Withdrawals, RequestToPay, Splits, CustomerPortal,
}

var matrix = map[PaymentMethod]Entry{
	OrangeMoney: {
		PaymentMethod:  OrangeMoney,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        true,
		Withdrawals:    true,
		RequestToPay:   true,
		Splits:         false,
		CustomerPortal: false,
	},
	Wave: {
		PaymentMethod:  Wave,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         true,
		Payouts:        true,
		Withdrawals:    true,
		RequestToPay:   true,
		Splits:         false,
		CustomerPortal: false,
	},
	Moov: {
		PaymentMethod:  Moov,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        true,
		Withdrawals:    true,
		RequestToPay:   true,
		Splits:         false,
		CustomerPortal: false,
	},
	Card: {
		PaymentMethod:  Card,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        false,
		Withdrawals:    true,
		RequestToPay:   false,
		Splits:         true,
		CustomerPortal: true,
	},
	Visa: {
		PaymentMethod:  Visa,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        false,
		Withdrawals:    true,
		RequestToPay:   false,
		Splits:         true,
		CustomerPortal: true,
	},
	Mastercard: {
		PaymentMethod:  Mastercard,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        false,
		Withdrawals:    true,
		RequestToPay:   false,
		Splits:         true,
		CustomerPortal: true,
	},
	GIMUEMOA: {
		PaymentMethod:  GIMUEMOA,
		Payments:       true,
		PaymentLinks:   true,
		QRCode:         false,
		Payouts:        false,
		Withdrawals:    true,
		RequestToPay:   false,
		Splits:         false,
		CustomerPortal: false,
	},
}

var descriptions = map[PaymentMethod]map[Capability]string{
	OrangeMoney: {
		Payments:       "Payment through Orange Money",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "No native QR code",
		Payouts:        "Send money to an Orange Money wallet",
		Withdrawals:    "Withdraw to an Orange Money wallet",
		RequestToPay:   "Request-to-pay through USSD push",
		Splits:         "Not available for Orange Money",
		CustomerPortal: "Not available",
	},
	Wave: {
		Payments:       "Payment through Wave (QR and push)",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "Native Wave QR code",
		Payouts:        "Send money through Wave",
		Withdrawals:    "Withdraw to a Wave wallet",
		RequestToPay:   "Wave request-to-pay",
		Splits:         "Not available for Wave",
		CustomerPortal: "Not available",
	},
	Moov: {
		Payments:       "Payment through Moov Money",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "No native QR code",
		Payouts:        "Send money through Moov",
		Withdrawals:    "Withdraw to a Moov wallet",
		RequestToPay:   "Request-to-pay through USSD push",
		Splits:         "Not available for Moov",
		CustomerPortal: "Not available",
	},
	Card: {
		Payments:       "Card payment with 3-D Secure",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "Not applicable to cards",
		Payouts:        "Payouts to cards are not supported",
		Withdrawals:    "Bank transfer",
		RequestToPay:   "Not applicable to cards",
		Splits:         "Marketplace splits",
		CustomerPortal: "Card management",
	},
	Visa: {
		Payments:       "VISA card payment",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "Not applicable to cards",
		Payouts:        "Payouts to cards are not supported",
		Withdrawals:    "Bank transfer",
		RequestToPay:   "Not applicable to cards",
		Splits:         "Marketplace splits",
		CustomerPortal: "Card management",
	},
	Mastercard: {
		Payments:       "Mastercard payment",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "Not applicable to cards",
		Payouts:        "Payouts to cards are not supported",
		Withdrawals:    "Bank transfer",
		RequestToPay:   "Not applicable to cards",
		Splits:         "Marketplace splits",
		CustomerPortal: "Card management",
	},
	GIMUEMOA: {
		Payments:       "GIM-UEMOA card payment",
		PaymentLinks:   "Hosted payment links",
		QRCode:         "Not applicable to cards",
		Payouts:        "Payouts to cards are not supported",
		Withdrawals:    "Bank transfer",
		RequestToPay:   "Not applicable to cards",
		Splits:         "Not available for GIM-UEMOA",
		CustomerPortal: "Not available",
	},
}

// Error explains why a method cannot be used for a capability.
type Error struct {
	Method        PaymentMethod
	Capability    Capability
	Justification string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment method %s does not support %s: %s", e.Method, e.Capability, e.Justification)
}

// Supports reports whether method offers capability. Unknown methods support
// nothing.
func Supports(method PaymentMethod, c Capability) bool {
	entry, ok := matrix[method]
	if !ok {
		return false
	}
	return entry.Has(c)
}

// Require returns a *Error when method does not support c.
func Require(method PaymentMethod, c Capability) error {
	if Supports(method, c) {
		return nil
	}
	return &Error{Method: method, Capability: c, Justification: Describe(method, c)}
}

// Describe returns the human-readable justification for (method, c).
func Describe(method PaymentMethod, c Capability) string {
	if d, ok := descriptions[method][c]; ok {
		return d
	}
	if _, ok := matrix[method]; !ok {
		return fmt.Sprintf("unknown payment method %q", method)
	}
	return fmt.Sprintf("unknown capability %q", c)
}

// MethodsWith lists the methods supporting c in declaration order.
func MethodsWith(c Capability) []PaymentMethod {
	var out []PaymentMethod
	for _, m := range allMethods {
		if Supports(m, c) {
			out = append(out, m)
		}
	}
	return out
}

// Lookup returns the full row for method.
func Lookup(method PaymentMethod) (Entry, bool) {
	e, ok := matrix[method]
	return e, ok
}

func Methods() []PaymentMethod {
	return append([]PaymentMethod(nil), allMethods...)
}

func Capabilities() []Capability {
	return append([]Capability(nil), allCapabilities...)
}

// ParseMethod resolves a method name case-insensitively.
func ParseMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := matrix[m]
	return m, ok
}

// IsCard reports whether method is a card scheme.
func IsCard(method PaymentMethod) bool {
	switch method {
	case Card, Visa, Mastercard, GIMUEMOA:
		return true
	}
	return false
}
