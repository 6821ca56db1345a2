package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	l, err := New("production", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	l, err = New("development", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("production", "loud")
	require.Error(t, err)
}

func TestNewNamed(t *testing.T) {
	l, err := NewNamed("production", "info", "zwiftroutebot")
	require.NoError(t, err)
	require.NotNil(t, l)
}
