package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus_AllowedTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current ChargeStatus
		event   Event
		want    ChargeStatus
	}{
		{"created accepted by gateway", ChargeStatusCreated, EventGatewayAccepted, ChargeStatusPending},
		{"created rejected by gateway", ChargeStatusCreated, EventGatewayRejected, ChargeStatusFailed},
		{"pending paid via webhook", ChargeStatusPending, EventWebhookPaid, ChargeStatusPaid},
		{"pending failed via webhook", ChargeStatusPending, EventWebhookFailed, ChargeStatusFailed},
		{"failed retry requested", ChargeStatusFailed, EventRetryRequested, ChargeStatusRetrying},
		{"failed retries exhausted", ChargeStatusFailed, EventRetryExhausted, ChargeStatusDead},
		{"retrying accepted by gateway", ChargeStatusRetrying, EventGatewayAccepted, ChargeStatusPending},
		{"retrying rejected by gateway", ChargeStatusRetrying, EventGatewayRejected, ChargeStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextStatus(tt.current, tt.event, 0, DefaultMaxRetries)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextStatus_RejectsUnknownPairs(t *testing.T) {
	statuses := []ChargeStatus{
		ChargeStatusCreated, ChargeStatusPending, ChargeStatusPaid,
		ChargeStatusFailed, ChargeStatusRetrying, ChargeStatusDead,
	}
	events := []Event{
		EventGatewayAccepted, EventGatewayRejected, EventWebhookPaid,
		EventWebhookFailed, EventRetryRequested, EventRetryExhausted,
	}

	allowed := map[ChargeStatus]map[Event]bool{
		ChargeStatusCreated:  {EventGatewayAccepted: true, EventGatewayRejected: true},
		ChargeStatusPending:  {EventWebhookPaid: true, EventWebhookFailed: true},
		ChargeStatusFailed:   {EventRetryRequested: true, EventRetryExhausted: true},
		ChargeStatusRetrying: {EventGatewayAccepted: true, EventGatewayRejected: true},
	}

	for _, status := range statuses {
		for _, event := range events {
			next, err := NextStatus(status, event, 0, DefaultMaxRetries)
			if allowed[status][event] {
				assert.NoError(t, err, "expected %s + %s to be allowed", status, event)
				continue
			}

			assert.ErrorIs(t, err, ErrInvalidTransition, "expected %s + %s to be rejected", status, event)
			// Отклоненное событие не двигает состояние
			assert.Equal(t, status, next)
		}
	}
}

func TestNextStatus_TerminalStatesAcceptNothing(t *testing.T) {
	events := []Event{
		EventGatewayAccepted, EventGatewayRejected, EventWebhookPaid,
		EventWebhookFailed, EventRetryRequested, EventRetryExhausted,
	}

	for _, terminal := range []ChargeStatus{ChargeStatusPaid, ChargeStatusDead} {
		require.True(t, IsTerminal(terminal))
		for _, event := range events {
			_, err := NextStatus(terminal, event, 0, DefaultMaxRetries)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}
}

func TestNextStatus_RetryGuardedByCounter(t *testing.T) {
	next, err := NextStatus(ChargeStatusFailed, EventRetryRequested, DefaultMaxRetries-1, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, ChargeStatusRetrying, next)

	_, err = NextStatus(ChargeStatusFailed, EventRetryRequested, DefaultMaxRetries, DefaultMaxRetries)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Исчерпание попыток остается доступным
	next, err = NextStatus(ChargeStatusFailed, EventRetryExhausted, DefaultMaxRetries, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, ChargeStatusDead, next)
}

func TestNextStatus_TransitionErrorCarriesContext(t *testing.T) {
	_, err := NextStatus(ChargeStatusPaid, EventWebhookFailed, 0, DefaultMaxRetries)
	require.Error(t, err)

	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, ChargeStatusPaid, terr.From)
	assert.Equal(t, EventWebhookFailed, terr.Event)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(ChargeStatusPaid))
	assert.True(t, IsTerminal(ChargeStatusDead))
	assert.False(t, IsTerminal(ChargeStatusCreated))
	assert.False(t, IsTerminal(ChargeStatusPending))
	assert.False(t, IsTerminal(ChargeStatusFailed))
	assert.False(t, IsTerminal(ChargeStatusRetrying))
}
