package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "whsec_test123"
	testBody   = `{"event":"payment.success","data":{"amount":1000}}`
)

func fixedClock(t time.Time) VerifyOption {
	return WithClock(func() time.Time { return t })
}

func TestVerify_ConcreteScenario(t *testing.T) {
	now := time.Now()
	ts := now.Unix()

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, testBody)))
	v1 := hex.EncodeToString(mac.Sum(nil))

	header := fmt.Sprintf("t=%d,v1=%s", ts, v1)
	assert.NoError(t, Verify([]byte(testBody), header, testSecret))

	bad := fmt.Sprintf("t=%d,v1=%s", ts, "bad_signature")
	err := Verify([]byte(testBody), bad, testSecret)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	var verr *VerificationError
	assert.ErrorAs(t, err, &verr)
}

func TestVerify_SignRoundTrip(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	header := Sign([]byte(testBody), testSecret, now)
	assert.NoError(t, Verify([]byte(testBody), header, testSecret, fixedClock(now)))
}

func TestVerify_Errors(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(testBody)
	valid := Sign(body, testSecret, now)

	tests := []struct {
		name   string
		header string
		secret string
		opts   []VerifyOption
		err    error
	}{
		{name: "empty secret", header: valid, secret: "", err: ErrMissingSecret},
		{name: "missing header", header: "  ", secret: testSecret, err: ErrMissingSignature},
		{name: "no timestamp", header: "v1=abcd", secret: testSecret, err: ErrMalformedHeader},
		{name: "no v1", header: "t=1760000000", secret: testSecret, err: ErrMalformedHeader},
		{name: "timestamp not a number", header: "t=abc,v1=abcd", secret: testSecret, err: ErrMalformedHeader},
		{name: "garbage", header: "hello", secret: testSecret, err: ErrMalformedHeader},
		{name: "wrong secret", header: valid, secret: "whsec_other", err: ErrSignatureMismatch},
		{name: "legacy disabled", header: SignLegacy(body, testSecret), secret: testSecret, err: ErrLegacyDisabled},
		{
			name:   "stale",
			header: valid,
			secret: testSecret,
			opts:   []VerifyOption{fixedClock(now.Add(301 * time.Second))},
			err:    ErrStaleTimestamp,
		},
		{
			name:   "too far in the future",
			header: valid,
			secret: testSecret,
			opts:   []VerifyOption{fixedClock(now.Add(-10 * time.Minute))},
			err:    ErrStaleTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts == nil {
				opts = []VerifyOption{fixedClock(now)}
			}
			err := Verify(body, tt.header, tt.secret, opts...)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	signedAt := time.Unix(1_760_000_000, 0)
	header := Sign([]byte(testBody), testSecret, signedAt)

	assert.NoError(t, Verify([]byte(testBody), header, testSecret, fixedClock(signedAt.Add(300*time.Second))))
	assert.ErrorIs(t,
		Verify([]byte(testBody), header, testSecret, fixedClock(signedAt.Add(301*time.Second))),
		ErrStaleTimestamp)

	assert.NoError(t, Verify([]byte(testBody), header, testSecret,
		fixedClock(signedAt.Add(time.Hour)), WithTolerance(2*time.Hour)))
}

func TestVerify_SingleByteFlipsAlwaysFail(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(testBody)
	header := Sign(body, testSecret, now)

	for i := range body {
		flipped := append([]byte(nil), body...)
		flipped[i] ^= 0x01
		assert.Error(t, Verify(flipped, header, testSecret, fixedClock(now)), "body byte %d", i)
	}

	for i := range testSecret {
		secret := []byte(testSecret)
		secret[i] ^= 0x01
		assert.Error(t, Verify(body, header, string(secret), fixedClock(now)), "secret byte %d", i)
	}

	prefix, sig, _ := strings.Cut(header, ",v1=")
	for i := range sig {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		tampered := prefix + ",v1=" + string(b)
		assert.ErrorIs(t, Verify(body, tampered, testSecret, fixedClock(now)), ErrSignatureMismatch, "sig char %d", i)
	}
}

func TestVerify_AcceptsAnyMatchingV1(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(testBody)
	valid := Sign(body, testSecret, now)
	_, sig, _ := strings.Cut(valid, ",v1=")

	header := fmt.Sprintf("t=%d, v1=%s, v1=%s", now.Unix(), strings.Repeat("0", 64), sig)
	assert.NoError(t, Verify(body, header, testSecret, fixedClock(now)))
}

func TestVerify_StaleEvenWhenMACMatches(t *testing.T) {
	now := time.Now()
	tolerance := 300 * time.Second
	old := now.Add(-tolerance - time.Second)
	header := Sign([]byte(testBody), testSecret, old)

	err := Verify([]byte(testBody), header, testSecret, fixedClock(now), WithTolerance(tolerance))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_ExtremeTimestampIsStale(t *testing.T) {
	body := []byte(testBody)
	for _, ts := range []int64{math.MinInt64, math.MaxInt64} {
		header := Sign(body, testSecret, time.Unix(ts, 0))

		err := Verify(body, header, testSecret, fixedClock(time.Unix(1_760_000_000, 0)))
		assert.ErrorIs(t, err, ErrStaleTimestamp, "t=%d", ts)
	}
}

func TestVerify_Legacy(t *testing.T) {
	body := []byte(testBody)
	legacy := SignLegacy(body, testSecret)
	require.Len(t, legacy, 64)

	assert.NoError(t, Verify(body, legacy, testSecret, WithLegacySignatures()))
	assert.NoError(t, Verify(body, strings.ToUpper(legacy), testSecret, WithLegacySignatures()))

	other := SignLegacy([]byte(`{"event":"payment.failed"}`), testSecret)
	assert.ErrorIs(t, Verify(body, other, testSecret, WithLegacySignatures()), ErrSignatureMismatch)
}
