// FILE: dozyr-core/models/money.go
package models

// Money - денежная сумма в минорных единицах валюты (центы, тиыны и т.д.).
// В леджере деньги НИКОГДА не представляются float'ом: вся арифметика целочисленная,
// а NUMERIC-колонки в БД хранят именно центы.
type Money struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// NewMoney создает неотрицательную сумму. Отрицательное значение - это
// всегда ошибка вызывающего кода (суммы этапов, депозиты и выплаты >= 0).
func NewMoney(cents int64, currency string) (Money, error) {
	if cents < 0 {
		return Money{}, NewDomainError(KindInvalidAmount,
			"сумма не может быть отрицательной: %d", cents)
	}
	if currency == "" {
		return Money{}, NewDomainError(KindInvalidAmount, "не указана валюта")
	}
	return Money{AmountCents: cents, Currency: currency}, nil
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return NewDomainError(KindCurrencyMismatch,
			"несовпадение валют: %s и %s", m.Currency, other.Currency)
	}
	return nil
}

// Add возвращает m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{AmountCents: m.AmountCents + other.AmountCents, Currency: m.Currency}, nil
}

// Sub возвращает m - other. Уход в минус считается ошибкой суммы.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.AmountCents > m.AmountCents {
		return Money{}, NewDomainError(KindInvalidAmount,
			"результат вычитания отрицателен: %d - %d", m.AmountCents, other.AmountCents)
	}
	return Money{AmountCents: m.AmountCents - other.AmountCents, Currency: m.Currency}, nil
}

// MultiplyByRate умножает сумму на ставку в базисных пунктах (100 б.п. = 1%).
// Округление банковское (к ближайшему четному), чтобы комиссия не накапливала
// систематический перекос ни в пользу платформы, ни в пользу исполнителя.
func (m Money) MultiplyByRate(bps int64) Money {
	if bps < 0 {
		bps = 0
	}
	return Money{
		AmountCents: bankersDiv(m.AmountCents*bps, 10000),
		Currency:    m.Currency,
	}
}

// bankersDiv делит n на d с округлением half-to-even. Оба аргумента неотрицательны.
func bankersDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	switch {
	case 2*r > d:
		return q + 1
	case 2*r < d:
		return q
	default:
		// Ровно половина: округляем к четному частному.
		if q%2 != 0 {
			return q + 1
		}
		return q
	}
}

// IsZero сообщает, что сумма нулевая.
func (m Money) IsZero() bool {
	return m.AmountCents == 0
}

// Compare возвращает -1, 0 или 1. Сравнивать можно только одну валюту.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.AmountCents < other.AmountCents:
		return -1, nil
	case m.AmountCents > other.AmountCents:
		return 1, nil
	default:
		return 0, nil
	}
}
