package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soraka.log")

	l, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	l.Info("answer served", zap.String("session_id", "abc"), zap.String("mode", "grounded"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"msg":"answer served"`)
	assert.Contains(t, line, `"session_id":"abc"`)
	assert.Contains(t, line, `"level":"INFO"`)
}

func TestLevelFiltersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soraka.log")

	l, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
