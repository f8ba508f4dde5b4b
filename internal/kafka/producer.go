package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Топики событий жизненного цикла платежа
const (
	TopicChargeCreated = "charge.created"
	TopicChargePaid    = "charge.paid"
	TopicChargeFailed  = "charge.failed"
	TopicChargeDead    = "charge.dead"
)

// ChargeEvent событие платежа для публикации в Kafka
type ChargeEvent struct {
	ID          string                `json:"id"`
	CustomerID  string                `json:"customer_id"`
	Status      domain.ChargeStatus   `json:"status"`
	Gateway     domain.GatewayVariant `json:"gateway"`
	TotalAmount int64                 `json:"total_amount"`
	Currency    string                `json:"currency"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Producer определяет интерфейс для публикации событий платежей в Kafka
type Producer interface {
	// PublishChargeEvent отправляет событие жизненного цикла платежа.
	// Ключ сообщения — ID платежа: все события одного платежа попадают
	// в одну партицию и сохраняют порядок.
	PublishChargeEvent(ctx context.Context, topic string, charge domain.Charge) error

	// Close закрывает соединение продюсера Kafka
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishChargeEvent преобразует платеж в событие и отправляет в топик
func (k *kafkaProducer) PublishChargeEvent(ctx context.Context, topic string, charge domain.Charge) error {
	event := ChargeEvent{
		ID:         charge.ID.String(),
		CustomerID: charge.CustomerID.String(),
		Status:     charge.Status,
		Gateway:    charge.GatewayUsed,
		Timestamp:  time.Now(),
	}
	if total, err := charge.TotalAmount(); err == nil {
		event.TotalAmount = total.Amount
		event.Currency = total.Currency
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal charge event for Kafka", "error", err, "chargeID", event.ID, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(event.ID),
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = k.writer.WriteMessages(writeCtx, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "chargeID", event.ID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "chargeID", event.ID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published charge event to Kafka", "topic", topic, "chargeID", event.ID)
	return nil
}

// Close закрывает соединение Kafka Writer
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	err := k.writer.Close()
	if err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}

// NoOpProducer заглушка на случай, когда Kafka не сконфигурирована
type NoOpProducer struct{}

// PublishChargeEvent ничего не делает
func (NoOpProducer) PublishChargeEvent(ctx context.Context, topic string, charge domain.Charge) error {
	return nil
}

// Close ничего не делает
func (NoOpProducer) Close() error { return nil }

var _ Producer = (*NoOpProducer)(nil)
