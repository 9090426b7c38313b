package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Константы валидации
const (
	MinJobTitleLength         = 3
	MaxJobTitleLength         = 200
	MinJobDescriptionLength   = 10
	MaxJobDescriptionLength   = 5000
	MinProposalLength         = 10
	MaxProposalLength         = 2000
	MaxRegionLength           = 100
	MaxDeliverableRefLength   = 500
	MinReasonLength           = 10
	MaxReasonLength           = 2000
	MinJustificationLength    = 10
	MaxJustificationLength    = 4000
	MaxBudget           int64 = 100_000_000_000 // в минимальных единицах
)

// Кошелёк мобильных денег: номер в международном формате или handle провайдера.
var walletHandleRegex = regexp.MustCompile(`^(\+?[0-9]{8,15}|[a-zA-Z0-9][a-zA-Z0-9_.\-]{2,63})$`)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3,8}$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

func validateText(fieldName, value string, min, max int) error {
	if err := ValidateNonEmpty(fieldName, value); err != nil {
		return err
	}
	return ValidateLength(fieldName, strings.TrimSpace(value), min, max)
}

// ValidateJobTitle проверяет заголовок заказа.
func ValidateJobTitle(title string) error {
	return validateText("заголовок заказа", title, MinJobTitleLength, MaxJobTitleLength)
}

// ValidateJobDescription проверяет описание заказа.
func ValidateJobDescription(description string) error {
	return validateText("описание заказа", description, MinJobDescriptionLength, MaxJobDescriptionLength)
}

// ValidateBudget проверяет бюджет в минимальных единицах валюты.
func ValidateBudget(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("бюджет должен быть положительным")
	}
	if amount > MaxBudget {
		return fmt.Errorf("бюджет не может превышать %d", MaxBudget)
	}
	return nil
}

// ValidateCurrency проверяет тег валюты. Курсы не используются, тег сравнивается как есть.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("некорректный код валюты %q", currency)
	}
	return nil
}

func ValidateRegion(region *string) error {
	if region == nil {
		return nil
	}
	return ValidateLength("регион", strings.TrimSpace(*region), 0, MaxRegionLength)
}

// ValidateDeadline запрещает срок в прошлом.
func ValidateDeadline(deadline *time.Time, now time.Time) error {
	if deadline != nil && deadline.Before(now) {
		return fmt.Errorf("срок выполнения не может быть в прошлом")
	}
	return nil
}

// ValidateProposal проверяет текст отклика.
func ValidateProposal(proposal string) error {
	return validateText("текст отклика", proposal, MinProposalLength, MaxProposalLength)
}

// ValidateWalletHandle проверяет кошелёк плательщика или получателя.
func ValidateWalletHandle(fieldName, handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return fmt.Errorf("%s обязателен", fieldName)
	}
	if !walletHandleRegex.MatchString(handle) {
		return fmt.Errorf("%s имеет некорректный формат", fieldName)
	}
	return nil
}

// ValidateDeliverableRef проверяет ссылку на результат работы.
func ValidateDeliverableRef(ref string) error {
	return validateText("ссылка на результат", ref, 1, MaxDeliverableRefLength)
}

// ValidateDisputeReason проверяет причину спора.
func ValidateDisputeReason(reason string) error {
	return validateText("причина спора", reason, MinReasonLength, MaxReasonLength)
}

// ValidateJustification проверяет обоснование решения арбитра.
func ValidateJustification(text string) error {
	return validateText("обоснование решения", text, MinJustificationLength, MaxJustificationLength)
}
