package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/gateway"
	"github.com/Dhoini/Billing-microservice/internal/kafka"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// validSignature подпись, которую заглушка шлюза считает корректной
const validSignature = "valid-signature"

// stubGateway управляемая заглушка платежного шлюза
type stubGateway struct {
	variant domain.GatewayVariant

	mu          sync.Mutex
	createFn    func(ctx context.Context, req gateway.CreateChargeRequest) (gateway.CreateChargeResult, error)
	createCalls int
}

func (s *stubGateway) Variant() domain.GatewayVariant { return s.variant }

func (s *stubGateway) CreateCharge(ctx context.Context, req gateway.CreateChargeRequest) (gateway.CreateChargeResult, error) {
	s.mu.Lock()
	s.createCalls++
	calls := s.createCalls
	fn := s.createFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return gateway.CreateChargeResult{
		ExternalID: fmt.Sprintf("%s_ext_%d", s.variant, calls),
		Status:     gateway.StatusPending,
	}, nil
}

// submissions число обращений к шлюзу
func (s *stubGateway) submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *stubGateway) FetchStatus(ctx context.Context, externalID string) (gateway.Status, error) {
	return gateway.StatusPending, nil
}

func (s *stubGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	return signatureHeader == validSignature
}

func (s *stubGateway) ParseWebhook(payload []byte) (gateway.WebhookData, error) {
	var wh struct {
		EventID    string `json:"event_id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(payload, &wh); err != nil || wh.EventID == "" {
		return gateway.WebhookData{}, fmt.Errorf("%w: bad payload", domain.ErrMalformedWebhook)
	}
	return gateway.WebhookData{
		EventID:    wh.EventID,
		ExternalID: wh.ExternalID,
		Status:     gateway.Status(wh.Status),
	}, nil
}

var _ gateway.Client = (*stubGateway)(nil)

// webhookPayload собирает тело вебхука для заглушки
func webhookPayload(eventID, externalID string, status gateway.Status) []byte {
	payload, _ := json.Marshal(map[string]string{
		"event_id":    eventID,
		"external_id": externalID,
		"status":      string(status),
	})
	return payload
}

// testEnv собранный сервисный слой поверх in-memory хранилищ
type testEnv struct {
	charges    *repository.InMemoryChargeRepository
	events     *repository.InMemoryWebhookEventRepository
	customers  *repository.InMemoryCustomerRepository
	products   *repository.InMemoryProductCatalog
	current    *stubGateway
	legacy     *stubGateway
	orch       Orchestrator
	rec        Reconciler
	coord      MigrationCoordinator
	customerID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.New(logger.ERROR)

	env := &testEnv{
		charges:   repository.NewInMemoryChargeRepository(log),
		events:    repository.NewInMemoryWebhookEventRepository(log),
		customers: repository.NewInMemoryCustomerRepository(log),
		products:  repository.NewInMemoryProductCatalog(),
		current:   &stubGateway{variant: domain.GatewayCurrent},
		legacy:    &stubGateway{variant: domain.GatewayLegacy},
	}
	env.charges.AttachWebhookLedger(env.events)
	env.customers.AttachOpenChargeCounter(env.charges.CountNonTerminal)
	env.products.Add("plan", "pro")
	env.products.Add("addon", "seats")

	customer, err := env.customers.Create(context.Background(), domain.Customer{
		ID:                uuid.New(),
		Name:              "Acme Ltda",
		Email:             "billing@acme.example",
		TaxID:             "12345678900",
		GatewayAssignment: domain.AssignmentCurrent,
	})
	require.NoError(t, err)
	env.customerID = customer.ID

	gateways := map[domain.GatewayVariant]gateway.Client{
		domain.GatewayCurrent: env.current,
		domain.GatewayLegacy:  env.legacy,
	}

	env.coord = NewMigrationCoordinator(env.customers, log)
	env.orch = NewOrchestrator(env.charges, env.customers, env.products, gateways, env.coord, kafka.NoOpProducer{}, metrics.NoOpMetrics{}, log)
	env.rec = NewReconciler(env.charges, env.events, gateways, env.orch, kafka.NoOpProducer{}, metrics.NoOpMetrics{}, log)

	return env
}

// createInput валидный запрос создания платежа
func (e *testEnv) createInput(key string) CreateChargeInput {
	return CreateChargeInput{
		CustomerID: e.customerID,
		Items: []ChargeItemInput{
			{ProductType: "plan", ProductID: "pro", Amount: 9900, Currency: "BRL"},
			{ProductType: "addon", ProductID: "seats", Amount: 1500, Currency: "BRL"},
		},
		BillingType:    domain.BillingOneTime,
		DueDate:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
	}
}
