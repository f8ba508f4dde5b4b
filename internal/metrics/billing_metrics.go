package metrics

import (
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncChargeCreated(gateway string)
	IncTransition(from, to string)
	IncWebhook(gateway, outcome string)
	ObserveChargeAmount(amountMinor int64, currency string)
}

type billingMetrics struct {
	log            *logger.Logger
	chargesCreated *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	chargeAmounts  *prometheus.HistogramVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	chargesCreated := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_created_total",
			Help: "The total number of created charges",
		},
		[]string{"gateway"},
	)

	transitions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charge_transitions_total",
			Help: "The total number of charge state transitions",
		},
		[]string{"from", "to"},
	)

	webhooks := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhooks_total",
			Help: "The total number of processed webhook deliveries by outcome",
		},
		[]string{"gateway", "outcome"},
	)

	chargeAmounts := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_charge_amount_minor",
			Help:    "Charge amounts distribution in minor units",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6), // 100 ... 10000000
		},
		[]string{"currency"},
	)

	return &billingMetrics{
		log:            log,
		chargesCreated: chargesCreated,
		transitions:    transitions,
		webhooks:       webhooks,
		chargeAmounts:  chargeAmounts,
	}
}

// IncChargeCreated увеличивает счетчик созданных платежей
func (m *billingMetrics) IncChargeCreated(gateway string) {
	m.chargesCreated.WithLabelValues(gateway).Inc()
}

// IncTransition увеличивает счетчик переходов состояний
func (m *billingMetrics) IncTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncWebhook увеличивает счетчик обработанных вебхуков
func (m *billingMetrics) IncWebhook(gateway, outcome string) {
	m.webhooks.WithLabelValues(gateway, outcome).Inc()
}

// ObserveChargeAmount записывает сумму платежа
func (m *billingMetrics) ObserveChargeAmount(amountMinor int64, currency string) {
	m.chargeAmounts.WithLabelValues(currency).Observe(float64(amountMinor))
}

// NoOpMetrics заглушка метрик для тестов
type NoOpMetrics struct{}

func (NoOpMetrics) IncChargeCreated(gateway string)                      {}
func (NoOpMetrics) IncTransition(from, to string)                        {}
func (NoOpMetrics) IncWebhook(gateway, outcome string)                   {}
func (NoOpMetrics) ObserveChargeAmount(amountMinor int64, currency string) {}

var _ BillingMetrics = (*NoOpMetrics)(nil)
