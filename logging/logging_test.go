package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", false)
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	nop := OrNop(nil)
	require.NotNil(t, nop)
	assert.False(t, nop.Core().Enabled(zapcore.ErrorLevel))

	logger, err := New("info", false)
	require.NoError(t, err)
	assert.Same(t, logger, OrNop(logger))
}
