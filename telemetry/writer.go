// Package telemetry implements the process-wide tracing bootstrap and
// the append-only JSONL event writer: the interaction tracker appends
// to <data_root>/telemetry/hybrid-events.jsonl and the Ralph engine to
// ralph-events.jsonl, which learning.Ingester tails by byte offset on
// the other end.
package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

// Writer appends one JSON object per line to a single telemetry file,
// serialized by a mutex so concurrent emitters never interleave
// partial lines.
type Writer struct {
	mu   sync.Mutex
	path string
}

// NewWriter returns a Writer for the telemetry file at path. The file
// is not opened here; each Emit opens it for append, creating it if
// needed.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Emit appends {"type": eventType, "timestamp": ..., ...payload} as one
// JSONL line. Failures are returned to the caller, who logs and
// continues rather than aborting on a telemetry write error.
func (w *Writer) Emit(ctx context.Context, eventType string, payload map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		event[k] = v
	}
	event["type"] = eventType
	event["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(event)
	if err != nil {
		return apperrors.New("telemetry.Emit", apperrors.KindInternal, err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.New("telemetry.Emit", apperrors.KindInternal, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return apperrors.New("telemetry.Emit", apperrors.KindInternal, err)
	}
	return nil
}
