package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrchestrator возвращает заранее заданные результаты
type fakeOrchestrator struct {
	charge domain.Charge
	err    error
}

func (f *fakeOrchestrator) CreateCharge(ctx context.Context, input service.CreateChargeInput) (domain.Charge, error) {
	return f.charge, f.err
}

func (f *fakeOrchestrator) GetCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	return f.charge, f.err
}

func (f *fakeOrchestrator) ListCustomerCharges(ctx context.Context, customerID uuid.UUID) ([]domain.Charge, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Charge{f.charge}, nil
}

func (f *fakeOrchestrator) RetryCharge(ctx context.Context, id uuid.UUID) (domain.Charge, error) {
	return f.charge, f.err
}

func (f *fakeOrchestrator) ApplyEvent(ctx context.Context, charge domain.Charge, event domain.Event, externalID string, webhookEvent *domain.WebhookEvent) (domain.Charge, error) {
	return f.charge, f.err
}

func chargeRouter(orch service.Orchestrator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewChargeHandler(orch, logger.New(logger.ERROR))
	router.POST("/api/v1/charges", handler.CreateCharge)
	router.GET("/api/v1/charges/:id", handler.GetCharge)
	router.POST("/api/v1/charges/:id/retry", handler.RetryCharge)
	return router
}

func validCreateBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"customer_id": uuid.New().String(),
		"products": []map[string]any{
			{"product_type": "plan", "product_id": "pro", "amount": 9900},
		},
		"billing_type":    "one_time",
		"due_date":        "2026-09-01",
		"idempotency_key": "key-1",
	})
	return body
}

func testCharge(status domain.ChargeStatus) domain.Charge {
	return domain.Charge{
		ID:          uuid.New(),
		CustomerID:  uuid.New(),
		Status:      status,
		GatewayUsed: domain.GatewayCurrent,
		ExternalID:  "cur_abc",
		DueDate:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Items: []domain.ChargeItem{
			{Amount: domain.Money{Amount: 9900, Currency: "BRL"}},
		},
	}
}

func TestCreateChargeHandler_Created(t *testing.T) {
	charge := testCharge(domain.ChargeStatusPending)
	router := chargeRouter(&fakeOrchestrator{charge: charge})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/charges", bytes.NewReader(validCreateBody()))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp ChargeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, charge.ID.String(), resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, int64(9900), resp.TotalAmount)
	assert.Equal(t, "2026-09-01", resp.DueDate)
}

func TestCreateChargeHandler_ErrorMapping(t *testing.T) {
	var verrs domain.ValidationErrors
	verrs.Add("items[0].product", "product not found")

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"duplicate key", domain.ErrDuplicateRequest, http.StatusConflict},
		{"validation errors", verrs, http.StatusUnprocessableEntity},
		{"unknown customer", domain.ErrCustomerNotFound, http.StatusUnprocessableEntity},
		{"gateway unavailable", domain.ErrGatewayUnavailable, http.StatusBadGateway},
		{"gateway rejection", &domain.GatewayRejectedError{Gateway: domain.GatewayCurrent, Code: "card_declined"}, http.StatusFailedDependency},
		{"internal error", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := chargeRouter(&fakeOrchestrator{charge: testCharge(domain.ChargeStatusCreated), err: tt.err})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/charges", bytes.NewReader(validCreateBody()))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCreateChargeHandler_BadRequestBody(t *testing.T) {
	router := chargeRouter(&fakeOrchestrator{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/charges", bytes.NewReader([]byte(`{"products":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetChargeHandler(t *testing.T) {
	charge := testCharge(domain.ChargeStatusPaid)
	router := chargeRouter(&fakeOrchestrator{charge: charge})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/charges/"+charge.ID.String(), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Не-UUID в пути не доходит до сервиса
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/charges/not-a-uuid", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	router = chargeRouter(&fakeOrchestrator{err: repository.ErrNotFound})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/charges/"+uuid.New().String(), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryChargeHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"retried", nil, http.StatusOK},
		{"unknown charge", domain.ErrUnknownCharge, http.StatusNotFound},
		{"terminal state", domain.ErrInvalidTransition, http.StatusConflict},
		{"already in flight", domain.ErrDuplicateRequest, http.StatusConflict},
		{"gateway unavailable", domain.ErrGatewayUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := chargeRouter(&fakeOrchestrator{charge: testCharge(domain.ChargeStatusRetrying), err: tt.err})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/charges/"+uuid.New().String()+"/retry", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
