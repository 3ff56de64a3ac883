package operation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidPayload = errors.New("invalid operation payload")

// Payload is the `data` object shared by Gateway responses and webhook bodies.
type Payload struct {
	ID             string         `json:"id"`
	Reference      string         `json:"reference,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	Amount         json.Number    `json:"amount"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Provider       string         `json:"provider,omitempty"`
	PaymentMethod  string         `json:"payment_method,omitempty"`
	ProviderRef    *string        `json:"provider_ref,omitempty"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	RecipientPhone string         `json:"recipient_phone,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
}

// Snapshot converts the wire payload. An empty status is read as PENDING,
// which is what a freshly created operation is.
func (p Payload) Snapshot(kind Kind) (Snapshot, error) {
	id := p.ID
	if id == "" {
		id = p.ReferenceID
	}
	if id == "" {
		id = p.Reference
	}

	amount, err := MinorUnits(p.Amount)
	if err != nil {
		return Snapshot{}, err
	}

	status := StatusPending
	if strings.TrimSpace(p.Status) != "" {
		status, err = ParseStatus(p.Status)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	provider := p.Provider
	if provider == "" {
		provider = p.PaymentMethod
	}
	phone := p.CustomerPhone
	if phone == "" {
		phone = p.RecipientPhone
	}
	currency := p.Currency
	if currency == "" {
		currency = "XOF"
	}

	return Snapshot{
		ID:                id,
		Kind:              kind,
		Amount:            amount,
		Currency:          strings.ToUpper(currency),
		Status:            status,
		Provider:          provider,
		ProviderRef:       p.ProviderRef,
		CounterpartyPhone: phone,
		Metadata:          p.Metadata,
		CreatedAt:         parseTime(p.CreatedAt),
		UpdatedAt:         parseTime(p.UpdatedAt),
	}, nil
}

// MinorUnits reads a JSON amount as an integer count of minor units. Whole
// floats such as 1000.0 are accepted; fractional values are not.
func MinorUnits(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidPayload, n)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: amount %q is not a whole number of minor units", ErrInvalidPayload, n)
	}
	return int64(f), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp reads the ISO 8601 forms the Gateway emits: RFC 3339, a
// numeric offset without colon, or no offset at all (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
