package operation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusPending, StatusProcessing, StatusSuccess, StatusCompleted,
	StatusFailed, StatusCancelled, StatusExpired,
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		current  Status
		incoming Status
		source   Source
		expected Status
		err      error
	}{
		{"unknown operation takes incoming", "", StatusPending, SourceWebhook, StatusPending, nil},
		{"pending to success", StatusPending, StatusSuccess, SourceWebhook, StatusSuccess, nil},
		{"pending to processing", StatusPending, StatusProcessing, SourceStatusQuery, StatusProcessing, nil},
		{"processing to completed", StatusProcessing, StatusCompleted, SourceStatusQuery, StatusCompleted, nil},
		{"processing does not regress", StatusProcessing, StatusPending, SourceWebhook, StatusProcessing, nil},
		{"same terminal is a no-op", StatusSuccess, StatusSuccess, SourceWebhook, StatusSuccess, nil},
		{"different terminal conflicts", StatusSuccess, StatusFailed, SourceWebhook, StatusSuccess, ErrTerminalConflict},
		{"late pending after terminal conflicts", StatusFailed, StatusPending, SourceStatusQuery, StatusFailed, ErrTerminalConflict},
		{"redirect has no authority", StatusPending, StatusSuccess, SourceRedirect, StatusPending, ErrNoTransitionAuthority},
		{"unknown status rejected", StatusPending, Status("PAID"), SourceWebhook, StatusPending, ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.current, tt.incoming, tt.source)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestApply_TerminalIsAbsorbing(t *testing.T) {
	for _, terminal := range allStatuses {
		if !terminal.IsTerminal() {
			continue
		}
		for _, incoming := range allStatuses {
			for _, src := range []Source{SourceWebhook, SourceStatusQuery, SourceRedirect} {
				got, _ := Apply(terminal, incoming, src)
				assert.Equal(t, terminal, got, "%s + %s via %s", terminal, incoming, src)
			}
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	assert.True(t, CanTransition(StatusProcessing, StatusCancelled))
	assert.False(t, CanTransition(StatusProcessing, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusSuccess, StatusSuccess))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" success ")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)

	_, err = ParseStatus("refunded")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestPayload_Snapshot(t *testing.T) {
	var p Payload
	body := `{"id":"pay_1","amount":1000,"currency":"xof","status":"","customer_phone":"+22370000000",
		"metadata":{"app_order_id":"42"},"created_at":"2026-01-02T03:04:05Z"}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	snap, err := p.Snapshot(KindPayment)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", snap.ID)
	assert.Equal(t, int64(1000), snap.Amount)
	assert.Equal(t, "XOF", snap.Currency)
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, 2026, snap.CreatedAt.Year())

	id, ok := snap.CorrelationID()
	assert.True(t, ok)
	assert.Equal(t, "42", id)
}

func TestMinorUnits(t *testing.T) {
	v, err := MinorUnits("2500.0")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), v)

	_, err = MinorUnits("12.5")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestKind_SuccessStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, KindPayment.SuccessStatus())
	assert.Equal(t, StatusCompleted, KindPayout.SuccessStatus())
}

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, s := range []string{"2026-01-02T03:04:05Z", "2026-01-02T03:04:05+0000", "2026-01-02T03:04:05", " 2026-01-02T04:04:05+01:00 "} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, expected.Equal(got), s)
	}

	_, err := ParseTimestamp("02/01/2026")
	assert.Error(t, err)
}
