package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyClient_CreateCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/charges", r.URL.Path)
		assert.Equal(t, "legacy-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		// Старый API получает общую сумму всех позиций
		assert.Equal(t, "11400", r.PostForm.Get("amount"))
		assert.Equal(t, "BRL", r.PostForm.Get("currency"))
		assert.Equal(t, "charge-ref-1", r.PostForm.Get("reference"))
		assert.Equal(t, "Acme Ltda", r.PostForm.Get("customer[name]"))
		assert.Equal(t, "plan/pro", r.PostForm.Get("items[0][description]"))
		assert.Equal(t, "1500", r.PostForm.Get("items[1][amount]"))

		json.NewEncoder(w).Encode(map[string]string{"transaction_id": "leg_789", "status": "created"})
	}))
	defer server.Close()

	client := NewLegacyClient(LegacyConfig{BaseURL: server.URL, APIKey: "legacy-key"}, logger.New(logger.ERROR))

	result, err := client.CreateCharge(context.Background(), testChargeRequest())
	require.NoError(t, err)
	assert.Equal(t, "leg_789", result.ExternalID)
	assert.Equal(t, StatusPending, result.Status)
}

func TestLegacyClient_CreateChargeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error_code":    "invalid_tax_id",
			"error_message": "tax id verification failed",
		})
	}))
	defer server.Close()

	client := NewLegacyClient(LegacyConfig{BaseURL: server.URL, APIKey: "legacy-key"}, logger.New(logger.ERROR))

	_, err := client.CreateCharge(context.Background(), testChargeRequest())

	var rejected *domain.GatewayRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, domain.GatewayLegacy, rejected.Gateway)
	assert.Equal(t, "invalid_tax_id", rejected.Code)
}

func TestLegacyClient_CreateChargeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewLegacyClient(LegacyConfig{BaseURL: server.URL, APIKey: "legacy-key"}, logger.New(logger.ERROR))

	_, err := client.CreateCharge(context.Background(), testChargeRequest())
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func signSHA1(secret string, payload []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payload)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestLegacyClient_VerifyWebhookSignature(t *testing.T) {
	client := NewLegacyClient(LegacyConfig{WebhookSecret: "legacy_secret"}, logger.New(logger.ERROR))
	payload := []byte("notification_id=n1&transaction_id=leg_789&status=approved")

	assert.True(t, client.VerifyWebhookSignature(payload, signSHA1("legacy_secret", payload)))
	assert.True(t, client.VerifyWebhookSignature(payload, "sha256="+signSHA256("legacy_secret", payload)))

	assert.False(t, client.VerifyWebhookSignature(payload, signSHA1("wrong", payload)))
	// Без префикса алгоритма подпись не принимается
	assert.False(t, client.VerifyWebhookSignature(payload, signSHA256("legacy_secret", payload)))
	assert.False(t, client.VerifyWebhookSignature(payload, ""))
	assert.False(t, client.VerifyWebhookSignature(payload, "sha1=zzzz"))
}

func TestLegacyClient_ParseWebhook(t *testing.T) {
	client := NewLegacyClient(LegacyConfig{}, logger.New(logger.ERROR))

	body := url.Values{}
	body.Set("notification_id", "n1")
	body.Set("transaction_id", "leg_789")
	body.Set("status", "settled")

	data, err := client.ParseWebhook([]byte(body.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "n1", data.EventID)
	assert.Equal(t, "leg_789", data.ExternalID)
	assert.Equal(t, StatusPaid, data.Status)

	_, err = client.ParseWebhook([]byte("notification_id=n1&status=approved"))
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)

	_, err = client.ParseWebhook([]byte("%zz"))
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)
}

func TestLegacyClient_StatusMapping(t *testing.T) {
	client := NewLegacyClient(LegacyConfig{}, logger.New(logger.ERROR))

	for raw, want := range map[string]Status{
		"approved": StatusPaid,
		"settled":  StatusPaid,
		"declined": StatusFailed,
		"expired":  StatusFailed,
		"created":  StatusPending,
		"waiting":  StatusPending,
	} {
		data, err := client.ParseWebhook([]byte("notification_id=n&transaction_id=t&status=" + raw))
		require.NoError(t, err)
		assert.Equal(t, want, data.Status, "raw status %q", raw)
	}
}
