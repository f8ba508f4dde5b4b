package service

import (
	"context"
	"testing"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebhook_PaidTransition(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", charge.ExternalID, gateway.StatusPaid), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusPaid, updated.Status)

	// Событие отмечено обработанным вместе с переходом
	event, err := env.events.GetByGatewayEventID(context.Background(), domain.GatewayCurrent, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, event.ProcessedAt)
	assert.Equal(t, charge.ID, event.ChargeID)
}

func TestHandleWebhook_DuplicateDeliveryHasOneEffect(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	payload := webhookPayload("evt-1", charge.ExternalID, gateway.StatusPaid)

	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	// Повторные доставки того же события подтверждаются без эффекта
	for i := 0; i < 3; i++ {
		outcome, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent, payload, validSignature)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, outcome)
	}

	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusPaid, updated.Status)
}

func TestHandleWebhook_OutOfOrderFailedAfterPaid(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-paid", charge.ExternalID, gateway.StatusPaid), validSignature)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	// Запоздавшее failed-событие подтверждается, но платеж остается paid
	outcome, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-failed", charge.ExternalID, gateway.StatusFailed), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusPaid, updated.Status)

	// Устаревшее событие тоже отмечено, повторная доставка дубликат
	outcome, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-failed", charge.ExternalID, gateway.StatusFailed), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestHandleWebhook_FailedTransition(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", charge.ExternalID, gateway.StatusFailed), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusFailed, updated.Status)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	_, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", charge.ExternalID, gateway.StatusPaid), "forged")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	// Состояние не изменилось, журнал пуст
	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusPending, updated.Status)
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		[]byte("garbage"), validSignature)
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)
}

func TestHandleWebhook_UnknownChargeIsRetryable(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", "cur_nobody", gateway.StatusPaid), validSignature)
	assert.ErrorIs(t, err, domain.ErrUnknownCharge)
}

func TestHandleWebhook_PendingStatusNeedsNoTransition(t *testing.T) {
	env := newTestEnv(t)

	charge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-1"))
	require.NoError(t, err)

	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", charge.ExternalID, gateway.StatusPending), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTransition, outcome)

	updated, err := env.charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusPending, updated.Status)

	// Доставка подтверждена, повтор дубликат
	outcome, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("evt-1", charge.ExternalID, gateway.StatusPending), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestHandleWebhook_DualWindowAcceptsBothGateways(t *testing.T) {
	env := newTestEnv(t)

	// Исторический платеж клиента на старом шлюзе
	require.NoError(t, env.coord.MarkLegacy(context.Background(), env.customerID))
	legacyCharge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-legacy"))
	require.NoError(t, err)
	require.Equal(t, domain.GatewayLegacy, legacyCharge.GatewayUsed)

	// Окно двойного шлюза: новые платежи идут в текущий
	require.NoError(t, env.coord.BeginDual(context.Background(), env.customerID))
	currentCharge, err := env.orch.CreateCharge(context.Background(), env.createInput("key-current"))
	require.NoError(t, err)
	require.Equal(t, domain.GatewayCurrent, currentCharge.GatewayUsed)

	// Вебхуки обоих шлюзов применяются к своим платежам
	outcome, err := env.rec.HandleWebhook(context.Background(), domain.GatewayLegacy,
		webhookPayload("leg-evt", legacyCharge.ExternalID, gateway.StatusPaid), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = env.rec.HandleWebhook(context.Background(), domain.GatewayCurrent,
		webhookPayload("cur-evt", currentCharge.ExternalID, gateway.StatusPaid), validSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
}
