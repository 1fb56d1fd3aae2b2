package invoices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOutstanding(t *testing.T) {
	cases := []struct {
		name string
		inv  Invoice
		want string
	}{
		{"open", Invoice{Status: StatusOpen, Gross: dec("1190"), PaidAmount: decimal.Zero}, "1190"},
		{"partial", Invoice{Status: StatusPartiallyPaid, Gross: dec("1190"), PaidAmount: dec("190")}, "1000"},
		{"paid", Invoice{Status: StatusPaid, Gross: dec("1190"), PaidAmount: dec("1190")}, "0"},
		{"paid short", Invoice{Status: StatusPaid, Gross: dec("1190"), PaidAmount: dec("1000")}, "0"},
		{"overpaid", Invoice{Status: StatusOpen, Gross: dec("100"), PaidAmount: dec("150")}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.inv.Outstanding().Equal(dec(tc.want)), "got %s", tc.inv.Outstanding())
		})
	}
}

func TestTotalsFor(t *testing.T) {
	totals := TotalsFor([]Invoice{
		{Status: StatusPaid, Gross: dec("500"), PaidAmount: dec("500")},
		{Status: StatusPartiallyPaid, Gross: dec("300"), PaidAmount: dec("100")},
		{Status: StatusOpen, Gross: dec("200")},
	})
	assert.True(t, totals.OpenBalance.Equal(dec("400")))
	assert.True(t, totals.Billed.Equal(dec("1000")))
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := Invoice{DueAt: &due}
	assert.Equal(t, 0, inv.DaysOverdue(due.AddDate(0, 0, -1)))
	assert.Equal(t, 10, inv.DaysOverdue(due.AddDate(0, 0, 10)))
	assert.Equal(t, 0, Invoice{}.DaysOverdue(due))
}

func TestEligibility(t *testing.T) {
	assert.True(t, Eligibility{DunningAllowed: true}.Allowed())
	blocked := Eligibility{DunningAllowed: false}
	assert.False(t, blocked.Allowed())
	assert.Equal(t, DefaultBlockReason, blocked.Reason())
	blocked.ProjectOverride = true
	assert.True(t, blocked.Allowed())
	assert.Equal(t, "Insolvenz", Eligibility{BlockReason: "Insolvenz"}.Reason())
}
