// Package learning implements the continuous-learning pipeline:
// telemetry ingest, pattern extraction, and optimization proposals,
// run as a background loop with backpressure. Ingest tails append-only
// JSONL files by byte offset and persists its progress as an atomic
// write-tempfile-then-rename checkpoint, so a restart resumes exactly
// where the previous process stopped.
package learning

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
)

// CheckpointSchemaVersion is bumped whenever the checkpoint file's
// shape changes incompatibly; a checkpoint lacking it is discarded.
const CheckpointSchemaVersion = 1

// Checkpoint is the ingest loop's durable progress marker.
type Checkpoint struct {
	LastPositions  map[string]int64 `json:"last_positions"`
	ProcessedCount int64             `json:"processed_count"`
	SchemaVersion  int               `json:"schema_version"`
	Timestamp      int64             `json:"timestamp"`
}

// RawEvent is one parsed JSONL telemetry line; Type and the rest of the
// payload are kept together for the pattern/proposal extractors.
type RawEvent struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"-"`
	raw  json.RawMessage
}

// UnmarshalJSON keeps the full object in raw for later typed decoding
// while still exposing Type for routing.
func (e *RawEvent) UnmarshalJSON(b []byte) error {
	type alias struct {
		Type string `json:"type"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	e.Type = a.Type
	e.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Decode unmarshals the event's full payload into v.
func (e *RawEvent) Decode(v interface{}) error { return json.Unmarshal(e.raw, v) }

// Ingester tails a fixed set of append-only JSONL files, tracking a
// byte offset per file and checkpointing every CheckpointEvery events.
type Ingester struct {
	mu             sync.Mutex
	files          []string
	checkpointPath string
	checkpointEvery int64

	positions map[string]int64
	processed int64
}

// NewIngester creates an Ingester over the given telemetry files,
// restoring offsets from checkpointPath if present and valid.
func NewIngester(files []string, checkpointPath string, checkpointEvery int64) *Ingester {
	if checkpointEvery <= 0 {
		checkpointEvery = 100
	}
	ing := &Ingester{
		files:           files,
		checkpointPath:  checkpointPath,
		checkpointEvery: checkpointEvery,
		positions:       make(map[string]int64),
	}
	ing.restoreCheckpoint()
	return ing
}

func (ing *Ingester) restoreCheckpoint() {
	data, err := os.ReadFile(ing.checkpointPath)
	if err != nil {
		return
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return
	}
	if cp.SchemaVersion != CheckpointSchemaVersion {
		// Legacy checkpoint formats lacking (or mismatching) a schema
		// version are discarded; the ingester starts from zero offsets.
		return
	}
	ing.positions = cp.LastPositions
	ing.processed = cp.ProcessedCount
}

// saveCheckpoint writes the checkpoint atomically: write to a sibling
// tempfile, fsync, then rename over the real path, so a crash never
// leaves a half-written checkpoint.
func (ing *Ingester) saveCheckpoint() error {
	cp := Checkpoint{
		LastPositions:  ing.positions,
		ProcessedCount: ing.processed,
		SchemaVersion:  CheckpointSchemaVersion,
		Timestamp:      time.Now().Unix(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}

	dir := filepath.Dir(ing.checkpointPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	if err := os.Rename(tmpName, ing.checkpointPath); err != nil {
		os.Remove(tmpName)
		return apperrors.New("learning.saveCheckpoint", apperrors.KindInternal, err)
	}
	return nil
}

// PendingBytes sums (file_size - last_offset) across every tailed
// file, used by the backpressure check.
func (ing *Ingester) PendingBytes() int64 {
	var total int64
	for _, f := range ing.files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		offset := ing.positions[f]
		if info.Size() > offset {
			total += info.Size() - offset
		}
	}
	return total
}

// Poll reads every new line appended to each file since its last
// offset, skipping malformed JSON lines, and returns the parsed
// events. A checkpoint is written every checkpointEvery events.
func (ing *Ingester) Poll() ([]RawEvent, error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	before := ing.processed
	var events []RawEvent
	for _, path := range ing.files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}

		offset := ing.positions[path]
		if _, err := f.Seek(offset, 0); err != nil {
			f.Close()
			continue
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var consumed int64
		for scanner.Scan() {
			line := scanner.Bytes()
			consumed += int64(len(line)) + 1
			if len(line) == 0 {
				continue
			}
			var ev RawEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			events = append(events, ev)
			ing.processed++
		}
		ing.positions[path] = offset + consumed
		f.Close()
	}

	if ing.processed/ing.checkpointEvery > before/ing.checkpointEvery {
		_ = ing.saveCheckpoint()
	}
	return events, nil
}
