package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/hybrid-coordinator/relstore"
)

var (
	errorHashDateScrub = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	errorHashTimeScrub = regexp.MustCompile(`\d{2}:\d{2}:\d{2}`)
	errorHashUUIDScrub = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	errorHashIntScrub  = regexp.MustCompile(`\b\d+\b`)
)

// ComputeErrorHash normalizes an error message before hashing:
// lowercase, scrub dates/times/UUIDs/bare integers, then hash
// error_type:component:message.
// Two occurrences of the same failure that differ only in a timestamp,
// request id, or retry count collapse to the same hash.
func ComputeErrorHash(errorType, component, message string) string {
	normalized := strings.ToLower(message)
	normalized = errorHashDateScrub.ReplaceAllString(normalized, "date")
	normalized = errorHashTimeScrub.ReplaceAllString(normalized, "time")
	normalized = errorHashUUIDScrub.ReplaceAllString(normalized, "uuid")
	normalized = errorHashIntScrub.ReplaceAllString(normalized, "num")
	sum := sha256.Sum256([]byte(errorType + ":" + component + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// IssueTracker upserts deduplicated issues into the relational store,
// keyed by normalized error hash.
type IssueTracker struct {
	store *relstore.Store
}

func NewIssueTracker(store *relstore.Store) *IssueTracker {
	return &IssueTracker{store: store}
}

// classify assigns a severity and category, reusing the
// dependency/timeout classifiers the proposal scan already applies to
// the same error text.
func classify(errText string) (severity, category string) {
	switch {
	case dependencyErrorPattern.MatchString(errText):
		return "high", "dependency_failure"
	case timeoutErrorPattern.MatchString(errText):
		return "medium", "timeout"
	default:
		return "low", "unclassified"
	}
}

// ScanEvents records one issue per task_failed/task_error event carrying
// a non-empty last_error, upserting by normalized error hash so repeat
// failures accumulate occurrence_count instead of creating new rows.
func (t *IssueTracker) ScanEvents(ctx context.Context, events []RawEvent) error {
	if t == nil || t.store == nil {
		return nil
	}
	var firstErr error
	now := time.Now()
	for _, ev := range events {
		if ev.Type != "task_failed" && ev.Type != "task_error" {
			continue
		}
		var e errorEvent
		if ev.Decode(&e) != nil || e.LastError == "" {
			continue
		}
		severity, category := classify(e.LastError)
		hash := ComputeErrorHash(ev.Type, e.TaskType, e.LastError)
		err := t.store.UpsertIssue(ctx, relstore.Issue{
			ID:        uuid.NewString(),
			Severity:  severity,
			Category:  category,
			Component: e.TaskType,
			FirstSeen: now,
			LastSeen:  now,
			ErrorHash: hash,
			Status:    "open",
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
