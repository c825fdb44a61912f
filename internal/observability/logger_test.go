package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_EmitsJSONEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "").With("engine")

	l.LogStep("u1", 3, "vision", "", false, "load failed")

	var evt map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil {
		t.Fatalf("event is not JSON: %v (%s)", err, buf.String())
	}
	if evt["type"] != string(EventTypeStep) {
		t.Errorf("expected type step, got %v", evt["type"])
	}
	if evt["component"] != "engine" {
		t.Errorf("expected component engine, got %v", evt["component"])
	}
	if evt["error"] != "load failed" {
		t.Errorf("expected error text, got %v", evt["error"])
	}
	if evt["step"] != float64(3) {
		t.Errorf("expected step 3, got %v", evt["step"])
	}
}

func TestLogger_LLMTranscriptRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm.jsonl")

	l := NewLoggerTo(&bytes.Buffer{}, path)
	l.maxSize = 10

	l.LogLLM("plan", "prompt one", "response one", nil)
	l.LogLLM("plan", "prompt two", "", errors.New("boom"))

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(current), "prompt two") {
		t.Errorf("current transcript missing latest entry: %s", current)
	}
	old, err := os.ReadFile(path + ".old")
	if err != nil {
		t.Fatalf("expected rotated file: %v", err)
	}
	if !strings.Contains(string(old), "prompt one") {
		t.Errorf("rotated transcript missing first entry: %s", old)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.LogLLM("synthesis", "p", "r", nil)
	l.With("x").Warn("ignored", errors.New("e"))
}
