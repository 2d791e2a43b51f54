package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriters_FansOut(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	logger := NewWithWriters(&jsonBuf, &textBuf, slog.LevelInfo)

	logger.Info("Document ready.", "documentId", "doc-1")
	logger.Debug("Not shown.")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &entry))
	assert.Equal(t, "Document ready.", entry["msg"])
	assert.Equal(t, "doc-1", entry["documentId"])
	assert.Contains(t, textBuf.String(), "documentId=doc-1")
	assert.NotContains(t, textBuf.String(), "Not shown.")
}

func TestSetup_WritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "docflow.log")
	logger, cleanup := Setup(path, slog.LevelInfo)
	logger.Info("Pipeline started.")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Pipeline started.")
}
