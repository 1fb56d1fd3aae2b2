package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/app"
	_ "github.com/odyssey-erp/scaffold-erp/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
