package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/app"
	_ "github.com/awecode/awecount-sub001/testing"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
