package dunning

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

func sampleData() TemplateData {
	return TemplateData{
		CustomerName:       "Bau GmbH",
		InvoiceNumber:      "RE-2026-0007",
		InvoiceDate:        time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		OpenAmount:         decimal.RequireFromString("1190"),
		Fee:                decimal.RequireFromString("15"),
		Interest:           decimal.Zero,
		TotalClaim:         decimal.RequireFromString("1205"),
		PaymentDeadline:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		PreviousNoticeDate: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
	}
}

func TestRenderBodyStages(t *testing.T) {
	first, err := RenderBody(1, sampleData(), "")
	require.NoError(t, err)
	require.Contains(t, first, "RE-2026-0007 vom 01.02.2026")
	require.Contains(t, first, "14.03.2026")
	require.NotContains(t, first, "Verzugszinsen")

	second, err := RenderBody(2, sampleData(), "")
	require.NoError(t, err)
	require.Contains(t, second, "Zahlungserinnerung vom 07.03.2026")
	require.Contains(t, second, "Mahngebühr: 15,00 €")

	third, err := RenderBody(3, sampleData(), "")
	require.NoError(t, err)
	require.Contains(t, third, "letzte Mahnung")
	require.Contains(t, third, "1.205,00 €")
}

func TestRenderBodyOverride(t *testing.T) {
	body, err := RenderBody(2, sampleData(), "Offen: {{eur .TotalClaim}}")
	require.NoError(t, err)
	require.Equal(t, "Offen: 1.205,00 €", body)

	body, err = RenderBody(2, sampleData(), "Bitte {{ zahlen")
	require.NoError(t, err)
	require.Equal(t, "Bitte {{ zahlen", body)

	_, err = RenderBody(0, sampleData(), "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFormatNumber(t *testing.T) {
	require.Equal(t, "M-2026-0001", FormatNumber(2026, 1))
	require.Equal(t, "M-2026-12345", FormatNumber(2026, 12345))
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPendingApproval, StatusApproved))
	require.True(t, CanTransition(StatusApproved, StatusSent))
	require.True(t, CanTransition(StatusSent, StatusSettled))
	require.True(t, CanTransition(StatusRejected, StatusCancelled))
	require.False(t, CanTransition(StatusPendingApproval, StatusSent))
	require.False(t, CanTransition(StatusSettled, StatusCancelled))
	require.False(t, CanTransition(StatusCancelled, StatusPendingApproval))
	require.True(t, StatusRejected.Closed())
	require.False(t, StatusRejected.Terminal())
}
