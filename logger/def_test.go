package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit(t *testing.T) {
	require.NoError(t, Init("development", "debug"))
	assert.True(t, Log().Core().Enabled(zap.DebugLevel))
	assert.Same(t, Log(), zap.L())

	require.NoError(t, Init("production", "warn"))
	assert.False(t, Log().Core().Enabled(zap.InfoLevel))
	assert.NotNil(t, S())
	assert.NotNil(t, Component("policy"))

	assert.Error(t, Init("verbose", ""))
	assert.Error(t, Init("production", "loud"))
}
