package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOutputIsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.WithField("module", "ledger").Info("settlement created")
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	// writes after Close are dropped instead of failing on a closed file
	log.Info("after close")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"module":"ledger"`)
	assert.Contains(t, string(raw), "settlement created")
	assert.NotContains(t, string(raw), "after close")
}

func TestCloseWithoutFile(t *testing.T) {
	log, err := New(Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, log.Close())
	assert.NoError(t, Discard().WithField("k", "v").Close())
}
