package logger_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerSplitsByLevel(t *testing.T) {
	dir := t.TempDir()

	log, cleanup, err := logger.NewLogger(dir)
	require.NoError(t, err)

	log.Info("receive created", logger.DecimalField("amount", decimal.RequireFromString("99")))
	log.Warn("insufficient funds", logger.ErrorField("error", errors.New("boom")))
	cleanup()

	info, err := os.ReadFile(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	errLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)

	assert.Contains(t, string(info), `"amount":"99.00"`)
	assert.NotContains(t, string(info), "insufficient funds")
	assert.Contains(t, string(errLog), "insufficient funds")
	assert.NotContains(t, string(errLog), "receive created")
}
