package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestIngesterSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.jsonl")
	writeLines(t, file, []string{
		`{"type":"task_completed"}`,
		`not json`,
		`{"type":"error_resolution"}`,
	})

	ing := NewIngester([]string{file}, filepath.Join(dir, "checkpoint.json"), 100)
	events, err := ing.Poll()
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestIngesterResumesFromOffset(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.jsonl")
	writeLines(t, file, []string{`{"type":"task_completed"}`})

	ing := NewIngester([]string{file}, filepath.Join(dir, "checkpoint.json"), 100)
	first, err := ing.Poll()
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := ing.Poll()
	require.NoError(t, err)
	assert.Empty(t, second)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"task_completed"}` + "\n")
	require.NoError(t, err)
	f.Close()

	third, err := ing.Poll()
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestIngesterCheckpointRoundTrips(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.jsonl")
	cpPath := filepath.Join(dir, "checkpoint.json")
	writeLines(t, file, []string{`{"type":"task_completed"}`})

	ing := NewIngester([]string{file}, cpPath, 1)
	_, err := ing.Poll()
	require.NoError(t, err)
	require.NoError(t, ing.saveCheckpoint())

	data, err := os.ReadFile(cpPath)
	require.NoError(t, err)
	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.Equal(t, CheckpointSchemaVersion, cp.SchemaVersion)
	assert.EqualValues(t, 1, cp.ProcessedCount)

	ing2 := NewIngester([]string{file}, cpPath, 1)
	assert.EqualValues(t, 1, ing2.processed)
}

func TestIngesterDiscardsLegacyCheckpointWithoutSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	require.NoError(t, os.WriteFile(cpPath, []byte(`{"last_positions":{"x":5},"processed_count":9}`), 0o644))

	ing := NewIngester(nil, cpPath, 100)
	assert.Equal(t, int64(0), ing.processed)
}

func TestPendingBytesSumsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl")
	b := filepath.Join(dir, "b.jsonl")
	writeLines(t, a, []string{"0123456789"})
	writeLines(t, b, []string{"01234"})

	ing := NewIngester([]string{a, b}, filepath.Join(dir, "checkpoint.json"), 100)
	assert.Equal(t, int64(17), ing.PendingBytes())
}
