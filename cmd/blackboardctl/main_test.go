package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const greetManifest = `
name: greet
inputs:
  who: {type: string}
steps:
  - id: hello
    type: echo
    params: {text: "hello {{ inputs.who }}"}
outputs:
  greeting: {value: "{{ steps.hello.content[0] }}"}
`

const danglingManifest = `
name: dangling
steps:
  - id: s1
    type: echo
    params: {text: "{{ steps.ghost.content }}"}
outputs:
  out: {value: done}
`

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "greet.yaml", greetManifest)
	bad := writeFile(t, dir, "dangling.yaml", danglingManifest)

	out, err := execute(t, "validate", good)
	if err != nil || !strings.Contains(out, "ok    "+good+" (greet, 1 steps)") {
		t.Fatalf("validate good: %v\n%s", err, out)
	}
	out, err = execute(t, "validate", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected failure, got %v", err)
	}
	if !strings.Contains(out, "fail  "+bad) || !strings.Contains(out, "steps.ghost") {
		t.Fatalf("missing failure detail:\n%s", out)
	}
}

func TestRunCommand(t *testing.T) {
	t.Setenv("BLACKBOARD_CONFIG", "")
	dir := t.TempDir()
	path := writeFile(t, dir, "greet.yaml", greetManifest)

	out, err := execute(t, "run", path, "-i", "who=world", "--workspace", filepath.Join(dir, "ws"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"status=RUNNING", "step_start", "step=hello", "status=COMPLETED", `"greeting": "hello world"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "run", path, "--workspace", filepath.Join(dir, "ws")); err == nil {
		t.Fatalf("expected missing input error")
	}
	if _, err := execute(t, "run", path, "-i", "novalue"); err == nil {
		t.Fatalf("expected malformed input error")
	}
}

func TestNextFireCommand(t *testing.T) {
	out, err := execute(t, "next-fire", "--cron", "0 9 * * *", "--tz", "Australia/Adelaide", "--after", "2026-01-10T00:00:00Z", "-n", "2")
	if err != nil {
		t.Fatalf("next-fire: %v", err)
	}
	want := "2026-01-10T22:30:00\n2026-01-11T22:30:00\n"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
	if _, err := execute(t, "next-fire", "--cron", "61 * * * *"); err == nil {
		t.Fatalf("expected trigger error")
	}
}

func TestParseInputArgs(t *testing.T) {
	got, err := parseInputArgs([]string{"a=1", "b=x=y"})
	if err != nil || got["a"] != "1" || got["b"] != "x=y" {
		t.Fatalf("unexpected %v %v", got, err)
	}
}
