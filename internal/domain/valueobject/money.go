package valueobject

import (
	"fmt"
	"strings"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

// Money хранит сумму в минимальных единицах валюты. Валюта является непрозрачным тегом, конвертации нет.
type Money struct {
	Amount   int64
	Currency string
}

func NewMoney(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "валюта обязательна")
	}
	if len(currency) > 8 {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "некорректный тег валюты")
	}
	return Money{Amount: amount, Currency: currency}, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
