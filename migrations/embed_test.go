package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamesAreOrdered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_core.sql", names[0])
}

func TestCoreSchemaGuardsInvoiceIncome(t *testing.T) {
	data, err := Files.ReadFile("0001_core.sql")
	require.NoError(t, err)
	sql := string(data)
	for _, table := range []string{"invoices", "dunning_notices", "dunning_counters", "ledger_entries", "balance_snapshots", "dunning_settings", "idempotency_keys"} {
		require.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	require.True(t, strings.Contains(sql, "WHERE source = 'invoice-auto' AND status = 'booked'"))
}
