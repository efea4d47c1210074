package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestDefaultTextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf))
	l.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestDebugLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf), WithDebug(false)).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record leaked: %q", buf.String())
	}

	buf.Reset()
	New(WithWriter(&buf), WithDebug(true)).Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug record missing: %q", buf.String())
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf), WithJSON(true)).Info("structured", "count", 42)

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if parsed["msg"] != "structured" {
		t.Errorf("msg = %v", parsed["msg"])
	}
}

func TestPrettyLogger(t *testing.T) {
	var buf bytes.Buffer
	New(WithWriter(&buf), WithPretty(true)).Info("pretty output")
	if !strings.Contains(buf.String(), "pretty output") {
		t.Errorf("message missing: %q", buf.String())
	}
}
