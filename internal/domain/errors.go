package domain

import (
	"errors"
	"fmt"
)

// Ошибки уровня домена
var (
	// ErrInvalidAmount некорректная сумма (неположительная или несовпадающие валюты)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition переход состояния не определен в таблице переходов
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateRequest запрос с таким ключом идемпотентности уже обработан
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrGatewayUnavailable платежный шлюз временно недоступен, можно повторить запрос
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayAuth ошибка аутентификации в платежном шлюзе, проблема конфигурации
	ErrGatewayAuth = errors.New("payment gateway authentication failed")

	// ErrSignatureInvalid подпись вебхука не прошла проверку
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrMalformedWebhook тело вебхука не удалось разобрать
	ErrMalformedWebhook = errors.New("malformed webhook payload")

	// ErrUnknownCharge вебхук ссылается на неизвестный external_id
	ErrUnknownCharge = errors.New("unknown charge")

	// ErrMigrationIncomplete у клиента остались незавершенные платежи на старом шлюзе
	ErrMigrationIncomplete = errors.New("migration incomplete")

	// ErrCustomerNotFound клиент не найден
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrProductNotFound продукт не найден
	ErrProductNotFound = errors.New("product not found")
)

// GatewayRejectedError шлюз окончательно отклонил платеж, содержит код причины
type GatewayRejectedError struct {
	Gateway GatewayVariant
	Code    string
	Message string
}

// Error реализует интерфейс error
func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("gateway %s rejected charge [%s]: %s", e.Gateway, e.Code, e.Message)
}

// TransitionError содержит детали отклоненного перехода состояния
type TransitionError struct {
	From  ChargeStatus
	Event Event
}

// Error реализует интерфейс error
func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition from %q on event %q", e.From, e.Event)
}

// Is позволяет сравнивать через errors.Is(err, ErrInvalidTransition)
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError представляет ошибку валидации одного поля
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}

	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
