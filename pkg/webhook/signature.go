// Package webhook verifies and parses the signed notifications the Gateway
// sends to a merchant endpoint.
//
// The raw request body must be verified in its exact byte form before it is
// parsed. Re-encoding a decoded body changes its bytes and breaks the
// signature.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries `t=<unix>,v1=<hex hmac-sha256>`.
const SignatureHeader = "X-SahelPay-Signature"

const DefaultTolerance = 300 * time.Second

var (
	ErrMissingSecret     = errors.New("webhook secret is empty")
	ErrMissingSignature  = errors.New("signature header is missing")
	ErrMalformedHeader   = errors.New("signature header is malformed")
	ErrSignatureMismatch = errors.New("signature does not match payload")
	ErrStaleTimestamp    = errors.New("signature timestamp outside tolerance")
	ErrLegacyDisabled    = errors.New("legacy signature format is not enabled")
)

// VerificationError is returned for every rejected signature. Err is one of
// the sentinel errors above so callers can use errors.Is.
type VerificationError struct {
	Err       error
	Timestamp int64
}

func (e *VerificationError) Error() string {
	if e.Timestamp != 0 {
		return fmt.Sprintf("webhook verification failed: %v (t=%d)", e.Err, e.Timestamp)
	}
	return fmt.Sprintf("webhook verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

type verifyOptions struct {
	tolerance   time.Duration
	allowLegacy bool
	now         func() time.Time
}

type VerifyOption func(*verifyOptions)

// WithTolerance sets the accepted clock distance between the signature
// timestamp and now.
func WithTolerance(d time.Duration) VerifyOption {
	return func(o *verifyOptions) {
		o.tolerance = d
	}
}

// WithLegacySignatures accepts the bare 64 hex character form computed over
// the body alone. That form carries no timestamp and can be replayed forever;
// enable it only while a sender still emits it.
func WithLegacySignatures() VerifyOption {
	return func(o *verifyOptions) {
		o.allowLegacy = true
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) VerifyOption {
	return func(o *verifyOptions) {
		o.now = now
	}
}

// Verify checks header against rawBody and secret. It returns nil only when
// the payload is authentic and fresh.
func Verify(rawBody []byte, header, secret string, opts ...VerifyOption) error {
	o := verifyOptions{tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if secret == "" {
		return &VerificationError{Err: ErrMissingSecret}
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return &VerificationError{Err: ErrMissingSignature}
	}

	if isLegacy(header) {
		if !o.allowLegacy {
			return &VerificationError{Err: ErrLegacyDisabled}
		}
		if !equalHex(computeMAC(secret, rawBody), header) {
			return &VerificationError{Err: ErrSignatureMismatch}
		}
		return nil
	}

	ts, signatures, err := parseHeader(header)
	if err != nil {
		return &VerificationError{Err: err}
	}

	expected := computeMAC(secret, signedPayload(ts, rawBody))
	matched := false
	for _, sig := range signatures {
		if equalHex(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return &VerificationError{Err: ErrSignatureMismatch, Timestamp: ts}
	}

	now := o.now().Unix()
	tolerance := int64(o.tolerance / time.Second)
	if ts < now-tolerance || ts > now+tolerance {
		return &VerificationError{Err: ErrStaleTimestamp, Timestamp: ts}
	}
	return nil
}

// Sign builds the header value the Gateway sends for rawBody at t.
func Sign(rawBody []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeMAC(secret, signedPayload(ts, rawBody))))
}

// SignLegacy builds the bare signature form.
func SignLegacy(rawBody []byte, secret string) string {
	return hex.EncodeToString(computeMAC(secret, rawBody))
}

func parseHeader(header string) (int64, []string, error) {
	var (
		ts         int64
		hasTS      bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrMalformedHeader)
			}
			ts, hasTS = v, true
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if !hasTS || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: t and v1 are required", ErrMalformedHeader)
	}
	return ts, signatures, nil
}

func isLegacy(header string) bool {
	if len(header) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(header)
	return err == nil
}

func signedPayload(ts int64, rawBody []byte) []byte {
	prefix := strconv.FormatInt(ts, 10) + "."
	buf := make([]byte, 0, len(prefix)+len(rawBody))
	buf = append(buf, prefix...)
	return append(buf, rawBody...)
}

func computeMAC(secret string, message []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// equalHex compares in constant time. Anything that is not hex of the right
// length is a mismatch.
func equalHex(expected []byte, supplied string) bool {
	got, err := hex.DecodeString(supplied)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
