package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterEmitAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w := NewWriter(path)

	require.NoError(t, w.Emit(context.Background(), "task_completed", map[string]interface{}{"task_id": "1"}))
	require.NoError(t, w.Emit(context.Background(), "task_completed", map[string]interface{}{"task_id": "2"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "task_completed", lines[0]["type"])
	require.Equal(t, "1", lines[0]["task_id"])
	require.NotEmpty(t, lines[0]["timestamp"])
}
