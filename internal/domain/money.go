package domain

import "fmt"

// Money денежная сумма в минимальных единицах валюты (копейки, центы).
// Никакой плавающей точки: все границы (шлюз, БД) обмениваются целыми числами.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney создает новую сумму, отклоняя неположительные значения
func NewMoney(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	if currency == "" {
		return Money{}, fmt.Errorf("%w: currency is empty", ErrInvalidAmount)
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// Add складывает две суммы одной валюты
func (m Money) Add(other Money) (Money, error) {
	if m.Amount <= 0 || other.Amount <= 0 {
		return Money{}, fmt.Errorf("%w: addends must be positive", ErrInvalidAmount)
	}
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: currency mismatch %s vs %s", ErrInvalidAmount, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// SumMoney суммирует набор сумм, требуя единую валюту
func SumMoney(amounts []Money) (Money, error) {
	if len(amounts) == 0 {
		return Money{}, fmt.Errorf("%w: nothing to sum", ErrInvalidAmount)
	}

	total := amounts[0]
	if total.Amount <= 0 {
		return Money{}, fmt.Errorf("%w: addends must be positive", ErrInvalidAmount)
	}

	var err error
	for _, a := range amounts[1:] {
		total, err = total.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Compare возвращает -1, 0 или 1; сравнение возможно только в одной валюте
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: currency mismatch %s vs %s", ErrInvalidAmount, m.Currency, other.Currency)
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}
