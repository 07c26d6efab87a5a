// Package artifact is the Artifact Writer (spec.md §4.9): it owns the
// sidecar's half of the `<workspace>/.reflection/` filesystem channel to
// peer subsystems (spec.md §6.3) — the verdict signal file and the full
// analysis record file. Grounded on the teacher's logging.ErrorLogger:
// lazy directory creation, explicit file permissions, and a mutex guarding
// concurrent writers.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencode-sh/reflection3/internal/types"
)

const reflectionDirName = ".reflection"

// ReflectionDir returns the reflection directory for a workspace.
func ReflectionDir(workspace string) string {
	return filepath.Join(workspace, reflectionDirName)
}

// RoutingInfo records which model the Routing Classifier chose, included in
// the analysis record when routing ran (spec.md §4.9).
type RoutingInfo struct {
	Category string `json:"category"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// AnalysisRecord is the full, peer-opaque record written alongside each
// verdict (spec.md §4.9's `{task, assessment(<=4k chars), analysis,
// routing?, timestamp}` shape; crossReview travels nested inside Analysis,
// see internal/types.ReflectionAnalysis.CrossReview).
type AnalysisRecord struct {
	Task       types.TaskContext        `json:"task"`
	Assessment string                   `json:"assessment"`
	Analysis   types.ReflectionAnalysis `json:"analysis"`
	Routing    *RoutingInfo             `json:"routing,omitempty"`
	Timestamp  int64                    `json:"timestamp"`
}

const maxAssessmentChars = 4000

// Writer writes verdict signal and analysis record files under a
// workspace's reflection directory. Safe for concurrent use by multiple
// goroutines reflecting on different sessions.
type Writer struct {
	mu sync.Mutex
}

// NewWriter constructs a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteVerdict writes `verdict_<short>.json`, atomically via
// write-then-rename so peers polling the file never observe a partial
// write (spec.md §5's ordering guarantee). It must be called before any
// toast or prompt-injection side effect for the same reflection.
func (w *Writer) WriteVerdict(workspace, sessionID string, complete bool, severity types.Severity) error {
	signal := types.VerdictSignal{
		SessionID: types.ShortSessionID(sessionID),
		Complete:  complete,
		Severity:  severity,
		Timestamp: time.Now().UnixMilli(),
	}

	dir := ReflectionDir(workspace)
	filename := fmt.Sprintf("verdict_%s.json", types.ShortSessionID(sessionID))

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeAtomic(dir, filename, signal)
}

// WriteAnalysisRecord writes `<short>_<epoch-ms>.json`, the full analysis
// record. assessment is truncated to 4000 characters per spec.md §4.9.
func (w *Writer) WriteAnalysisRecord(workspace, sessionID string, task types.TaskContext, assessment string, analysis types.ReflectionAnalysis, routing *RoutingInfo) error {
	record := AnalysisRecord{
		Task:       task,
		Assessment: truncate(assessment, maxAssessmentChars),
		Analysis:   analysis,
		Routing:    routing,
		Timestamp:  time.Now().UnixMilli(),
	}

	dir := ReflectionDir(workspace)
	filename := fmt.Sprintf("%s_%d.json", types.ShortSessionID(sessionID), record.Timestamp)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeAtomic(dir, filename, record)
}

// writeAtomic marshals v as indented JSON, writes it to a temp file in dir,
// then renames it into place — a rename within the same directory is
// atomic on every platform the host runtime supports.
func (w *Writer) writeAtomic(dir, filename string, v interface{}) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: creating reflection directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshaling %q: %w", filename, err)
	}

	finalPath := filepath.Join(dir, filename)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("artifact: writing temp file for %q: %w", filename, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact: renaming into place %q: %w", filename, err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
