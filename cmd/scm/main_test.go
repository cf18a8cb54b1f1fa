package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/app"
	_ "github.com/abdialidrus/scm-mining/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	main()
}
