package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencode-sh/reflection3/internal/types"
)

func TestWriteVerdict_CreatesFileWithExactShape(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	w := NewWriter()

	if err := w.WriteVerdict(workspace, "abcdef0123456789", true, types.SeverityNone); err != nil {
		t.Fatalf("WriteVerdict: %v", err)
	}

	path := filepath.Join(ReflectionDir(workspace), "verdict_abcdef01.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected verdict file at %s: %v", path, err)
	}

	var signal types.VerdictSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if signal.SessionID != "abcdef01" {
		t.Errorf("SessionID = %q, want short form", signal.SessionID)
	}
	if !signal.Complete {
		t.Error("Complete should be true")
	}
	if signal.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}

	if !strings.Contains(string(data), `"sessionId"`) {
		t.Errorf("field names must match the %%json-tagged shape, got: %s", data)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after a successful write")
	}
}

func TestWriteAnalysisRecord_TruncatesAssessment(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	w := NewWriter()

	longAssessment := strings.Repeat("x", 5000)
	err := w.WriteAnalysisRecord(workspace, "abcdef0123456789", types.TaskContext{TaskSummary: "fix bug"}, longAssessment, types.ReflectionAnalysis{Complete: true}, &RoutingInfo{Category: "backend", Provider: "anthropic", Model: "claude-opus-4"})
	if err != nil {
		t.Fatalf("WriteAnalysisRecord: %v", err)
	}

	entries, err := os.ReadDir(ReflectionDir(workspace))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var recordPath string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "abcdef01_") {
			recordPath = filepath.Join(ReflectionDir(workspace), e.Name())
		}
	}
	if recordPath == "" {
		t.Fatalf("expected an analysis record file under %v", entries)
	}

	data, err := os.ReadFile(recordPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var record AnalysisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if len(record.Assessment) != maxAssessmentChars {
		t.Errorf("Assessment length = %d, want %d", len(record.Assessment), maxAssessmentChars)
	}
	if record.Routing == nil || record.Routing.Category != "backend" {
		t.Errorf("Routing = %+v", record.Routing)
	}
	if record.Task.TaskSummary != "fix bug" {
		t.Errorf("Task.TaskSummary = %q", record.Task.TaskSummary)
	}
}

func TestWriteVerdict_CreatesReflectionDirLazily(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	if _, err := os.Stat(ReflectionDir(workspace)); !os.IsNotExist(err) {
		t.Fatal("reflection dir should not exist before any write")
	}

	w := NewWriter()
	if err := w.WriteVerdict(workspace, "sess1", false, types.SeverityMedium); err != nil {
		t.Fatalf("WriteVerdict: %v", err)
	}

	if info, err := os.Stat(ReflectionDir(workspace)); err != nil || !info.IsDir() {
		t.Error("reflection dir should exist after first write")
	}
}
