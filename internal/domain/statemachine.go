package domain

// Event событие, двигающее платеж по жизненному циклу
type Event string

const (
	EventGatewayAccepted Event = "gateway_accepted"
	EventGatewayRejected Event = "gateway_rejected"
	EventWebhookPaid     Event = "webhook_paid"
	EventWebhookFailed   Event = "webhook_failed"
	EventRetryRequested  Event = "retry_requested"
	EventRetryExhausted  Event = "retry_exhausted"
)

// DefaultMaxRetries максимальное число повторных попыток оплаты
const DefaultMaxRetries = 3

// transitions таблица переходов (текущее состояние, событие) -> следующее.
// Любая пара вне таблицы отклоняется без побочных эффектов: сохраненное
// состояние авторитетно, событие логируется и отбрасывается.
var transitions = map[ChargeStatus]map[Event]ChargeStatus{
	ChargeStatusCreated: {
		EventGatewayAccepted: ChargeStatusPending,
		EventGatewayRejected: ChargeStatusFailed,
	},
	ChargeStatusPending: {
		EventWebhookPaid:   ChargeStatusPaid,
		EventWebhookFailed: ChargeStatusFailed,
	},
	ChargeStatusFailed: {
		EventRetryRequested: ChargeStatusRetrying,
		EventRetryExhausted: ChargeStatusDead,
	},
	ChargeStatusRetrying: {
		EventGatewayAccepted: ChargeStatusPending,
		// Отказ шлюза на повторной отправке возвращает платеж в failed
		EventGatewayRejected: ChargeStatusFailed,
	},
	// Из paid и dead переходов нет: состояния терминальны
}

// IsTerminal сообщает, является ли состояние терминальным
func IsTerminal(s ChargeStatus) bool {
	return s == ChargeStatusPaid || s == ChargeStatusDead
}

// NextStatus вычисляет следующее состояние для пары (current, event).
// Переход FAILED -> RETRYING дополнительно охраняется счетчиком попыток.
// Чистая функция: применение перехода к хранилищу остается за вызывающим
// и должно быть атомарным с коммитом.
func NextStatus(current ChargeStatus, event Event, retryCount, maxRetries int) (ChargeStatus, error) {
	byEvent, ok := transitions[current]
	if !ok {
		return current, &TransitionError{From: current, Event: event}
	}

	next, ok := byEvent[event]
	if !ok {
		return current, &TransitionError{From: current, Event: event}
	}

	if event == EventRetryRequested && retryCount >= maxRetries {
		return current, &TransitionError{From: current, Event: event}
	}

	return next, nil
}
