package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origOut := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
		logFormatOnce = sync.Once{}
	})
	return &buf
}

func TestInfoTextFormat(t *testing.T) {
	logFormatOnce = sync.Once{}
	t.Setenv("BLACKBOARD_LOG_FORMAT", "")
	buf := captureLog(t)

	Info("scheduler", "hello", "key", "val")
	got := strings.TrimSpace(buf.String())
	if !strings.Contains(got, "[SCHEDULER] hello") || !strings.Contains(got, "key=val") {
		t.Fatalf("unexpected log output: %s", got)
	}
}

func TestErrorJSONFormat(t *testing.T) {
	logFormatOnce = sync.Once{}
	t.Setenv("BLACKBOARD_LOG_FORMAT", "json")
	buf := captureLog(t)

	Error("workflow-engine", "boom", "code", 500, "err", errors.New("bad"))
	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("expected json output, got: %s", line)
	}
	if payload["level"] != "ERROR" || payload["component"] != "workflow-engine" || payload["msg"] != "boom" {
		t.Fatalf("unexpected json payload: %#v", payload)
	}
	if payload["err"] != "bad" {
		t.Fatalf("expected error string field, got %#v", payload["err"])
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	logFormatOnce = sync.Once{}
	t.Setenv("BLACKBOARD_LOG_LEVEL", "")
	buf := captureLog(t)

	Debug("agent", "noisy")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be suppressed, got %q", buf.String())
	}

	logFormatOnce = sync.Once{}
	t.Setenv("BLACKBOARD_LOG_LEVEL", "debug")
	Debug("agent", "noisy")
	if !strings.Contains(buf.String(), "DEBUG noisy") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestFormatFields(t *testing.T) {
	out := formatFields("a", 1, "b")
	if !strings.Contains(out, "a=1") || !strings.Contains(out, "b=(missing)") {
		t.Fatalf("unexpected fields: %s", out)
	}
	if out = formatFields(); out != "" {
		t.Fatalf("expected empty output")
	}
}

func TestToString(t *testing.T) {
	if got := toString(" value\n"); got != " value\n" {
		t.Fatalf("unexpected string: %s", got)
	}
	if got := toString(123); got != "123" {
		t.Fatalf("unexpected non-string conversion: %s", got)
	}
}
