package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(RunContext{
		RunID:     "run-001",
		FileName:  "hero.psd",
		Component: "upload",
	}, &buf)

	logger.Info("chunk appended", map[string]any{"index": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["run_id"] != "run-001" {
		t.Errorf("run_id = %v, want run-001", e["run_id"])
	}
	if e["file_name"] != "hero.psd" {
		t.Errorf("file_name = %v, want hero.psd", e["file_name"])
	}
	if e["component"] != "upload" {
		t.Errorf("component = %v, want upload", e["component"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	if _, ok := e["upload_id"]; ok {
		t.Error("upload_id should be omitted when empty")
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["index"] != float64(3) {
		t.Errorf("fields = %v, want index=3", e["fields"])
	}
}

func TestLogger_WithUploadID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(RunContext{RunID: "run-001"}, &buf).WithUploadID("up-42")

	logger.Warn("append rejected", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["upload_id"] != "up-42" {
		t.Errorf("upload_id = %v, want up-42", entries[0]["upload_id"])
	}
	if entries[0]["level"] != "warn" {
		t.Errorf("level = %v, want warn", entries[0]["level"])
	}
}

func TestLogger_WithOutput(t *testing.T) {
	var first, second bytes.Buffer
	logger := NewLoggerWithWriter(RunContext{RunID: "run-001"}, &first)

	logger.WithOutput(&second).Error("boom", map[string]any{"step": "convert"})

	if first.Len() != 0 {
		t.Errorf("original writer should be untouched, got %q", first.String())
	}
	entries := decodeLines(t, &second)
	if len(entries) != 1 || entries[0]["run_id"] != "run-001" {
		t.Errorf("redirected entry should keep run context, got %v", entries)
	}
}

func TestLogger_WithOutputKeepsUploadID(t *testing.T) {
	var first, second bytes.Buffer
	base := NewLoggerWithWriter(RunContext{RunID: "run-001", Component: "upload"}, &first)
	tagged := base.WithUploadID("up-7")

	tagged.WithOutput(&second).Info("appended", nil)
	base.WithOutput(&second).Info("untagged", nil)

	entries := decodeLines(t, &second)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["upload_id"] != "up-7" || entries[0]["component"] != "upload" {
		t.Errorf("tagged entry = %v", entries[0])
	}
	if _, ok := entries[1]["upload_id"]; ok {
		t.Errorf("base logger picked up upload_id: %v", entries[1])
	}
}

func TestSugaredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(RunContext{}, &buf)

	logger.Sugar().With("stage", "parse").Infof("parsed %d layers", 12)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "parsed 12 layers" {
		t.Errorf("message = %v", entries[0]["message"])
	}
	if entries[0]["stage"] != "parse" {
		t.Errorf("stage = %v, want parse", entries[0]["stage"])
	}
}

func TestNop(_ *testing.T) {
	Nop().Info("discarded", map[string]any{"k": "v"})
}
