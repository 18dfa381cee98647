package observability_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragchat/internal/observability"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ragchat.log")
	logger, err := observability.NewLogger("debug", path)
	require.NoError(t, err)
	logger.Debug("pipeline initialized", zap.Int("chunks", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "pipeline initialized", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.InDelta(t, 3, entry["chunks"], 0)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ragchat.log")
	logger, err := observability.NewLogger("WARN", path)
	require.NoError(t, err)
	logger.Info("dropped")
	_ = logger.Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNewLogger_BadLevel(t *testing.T) {
	t.Parallel()
	_, err := observability.NewLogger("chatty", "")
	require.Error(t, err)
}
