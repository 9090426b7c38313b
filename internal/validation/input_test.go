package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateJobTitle(t *testing.T) {
	assert.NoError(t, ValidateJobTitle("Логотип для кафе"))
	assert.Error(t, ValidateJobTitle("   "))
	assert.Error(t, ValidateJobTitle("ab"))
	assert.Error(t, ValidateJobTitle(strings.Repeat("я", MaxJobTitleLength+1)))
}

func TestValidateBudget(t *testing.T) {
	assert.NoError(t, ValidateBudget(10000))
	assert.Error(t, ValidateBudget(0))
	assert.Error(t, ValidateBudget(-5))
	assert.Error(t, ValidateBudget(MaxBudget+1))
}

func TestValidateCurrency(t *testing.T) {
	assert.NoError(t, ValidateCurrency("SSP"))
	assert.NoError(t, ValidateCurrency("USDC"))
	assert.Error(t, ValidateCurrency("ssp"))
	assert.Error(t, ValidateCurrency("S"))
	assert.Error(t, ValidateCurrency(""))
}

func TestValidateWalletHandle(t *testing.T) {
	tests := []struct {
		handle string
		valid  bool
	}{
		{"+211912345678", true},
		{"211912345678", true},
		{"mgurtong.pay", true},
		{"fail-wallet", true},
		{"", false},
		{"+12", false},
		{"-leading-dash", false},
		{"has space", false},
	}
	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			err := ValidateWalletHandle("кошелёк", tt.handle)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateDeadline(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.NoError(t, ValidateDeadline(nil, now))
	assert.NoError(t, ValidateDeadline(&future, now))
	assert.Error(t, ValidateDeadline(&past, now))
}

func TestValidateTextFields(t *testing.T) {
	assert.Error(t, ValidateProposal("коротко"))
	assert.NoError(t, ValidateProposal("Сделаю за три дня, есть портфолио"))
	assert.Error(t, ValidateDisputeReason("плохо"))
	assert.NoError(t, ValidateDisputeReason("Исполнитель не выходит на связь неделю"))
	assert.Error(t, ValidateJustification(""))
	assert.NoError(t, ValidateDeliverableRef("https://files.example/logo.zip"))
}
