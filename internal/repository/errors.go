package repository

import "errors"

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи (нарушение уникального индекса)
	ErrDuplicate = errors.New("duplicate record")

	// ErrStaleTransition конкурирующая запись успела первой: строка платежа
	// уже не в ожидаемом состоянии, переход нужно пересчитать и повторить
	ErrStaleTransition = errors.New("stale transition")

	// ErrChargesOpen у клиента остались незавершенные платежи на шлюзе
	ErrChargesOpen = errors.New("open charges on gateway")

	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")
)
