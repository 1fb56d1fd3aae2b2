package shared

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmountUsesGermanSeparators(t *testing.T) {
	assert.Equal(t, "1.190,00", FormatAmount(decimal.RequireFromString("1190")))
	assert.Equal(t, "5,50 €", FormatEUR(decimal.RequireFromString("5.5")))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "07.03.2026", FormatDate(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)))
}
