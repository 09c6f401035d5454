package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func prepare(t *testing.T, stepType string, params map[string]any) map[string]any {
	t.Helper()
	prepared, err := NewDefaultRegistry().PrepareParams(stepType, params)
	if err != nil {
		t.Fatalf("prepare %s: %v", stepType, err)
	}
	return prepared
}

func TestEchoDoesNotWriteByDefault(t *testing.T) {
	job := newTestJob(t)
	out, err := Echo{}.Run(context.Background(), Env{StepID: "s1", Job: job}, prepare(t, "echo", map[string]any{"text": "hello"}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	base := out.Base()
	if !reflect.DeepEqual(base.Content, []string{"hello"}) || len(base.FilePaths) != 0 {
		t.Fatalf("unexpected output %#v", base)
	}
}

func TestPersistSingleAndMultiple(t *testing.T) {
	job := newTestJob(t)
	env := Env{StepID: "s1", Job: job}

	single := &BaseOutput{Content: []string{"one"}}
	if err := Persist(env, CommonParams{WriteResponseToFile: true}, single); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if want := filepath.Join(job.Internal, "s1.md"); len(single.FilePaths) != 1 || single.FilePaths[0] != want {
		t.Fatalf("unexpected paths %v", single.FilePaths)
	}

	multi := &BaseOutput{Content: []string{"a", "b"}}
	common := CommonParams{WriteResponseToFile: true, WriteResponseToOutput: true, SubDirectory: "parts", OutputFilenamePrefix: "part"}
	if err := Persist(env, common, multi); err != nil {
		t.Fatalf("persist: %v", err)
	}
	for i, name := range []string{"part_0.md", "part_1.md"} {
		if multi.FilePaths[i] != filepath.Join(job.Internal, "parts", name) {
			t.Fatalf("path %d = %s", i, multi.FilePaths[i])
		}
		data, err := os.ReadFile(filepath.Join(job.Output, "parts", name))
		if err != nil {
			t.Fatalf("output copy missing: %v", err)
		}
		if string(data) != multi.Content[i] {
			t.Fatalf("output %s = %q", name, data)
		}
	}
}

func TestPersistRejectsEscapingSubDirectory(t *testing.T) {
	job := newTestJob(t)
	out := &BaseOutput{Content: []string{"x"}}
	if err := Persist(Env{StepID: "s", Job: job}, CommonParams{WriteResponseToFile: true, SubDirectory: "../up"}, out); err == nil {
		t.Fatalf("expected escape error")
	}
}

func TestFileReadWalksDirectories(t *testing.T) {
	job := newTestJob(t)
	nested := filepath.Join(job.Input, "docs", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		filepath.Join(job.Input, "docs", "b.txt"): "bee",
		filepath.Join(nested, "a.txt"):            "ay",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	params := prepare(t, "file_read", map[string]any{
		"files_to_read":            []any{"input/docs", filepath.Join(job.Input, "docs", "b.txt")},
		"write_response_to_output": true,
	})
	out, err := FileRead{}.Run(context.Background(), Env{StepID: "read", Job: job}, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	base := out.Base()
	if len(base.FilePaths) != 2 || len(base.Content) != 2 {
		t.Fatalf("expected 2 deduplicated files, got %#v", base)
	}
	for i, path := range base.FilePaths {
		if files[path] != base.Content[i] {
			t.Fatalf("content %d does not match %s", i, path)
		}
	}
	if _, err := os.Lstat(filepath.Join(job.Output, "a.txt")); err != nil {
		t.Fatalf("expected exported file: %v", err)
	}
}

func TestFileReadMissingFile(t *testing.T) {
	job := newTestJob(t)
	params := prepare(t, "file_read", map[string]any{"files_to_read": []any{"input/missing.txt"}})
	if _, err := (FileRead{}).Run(context.Background(), Env{StepID: "read", Job: job}, params); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestAgentMapKeepsPromptOrder(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		job := newTestJob(t)
		agents, provider := newAgents(t, upper)
		params := prepare(t, "agent_map", map[string]any{
			"agent":           "writer",
			"prompts":         []any{"a", "b", "c", "d"},
			"prompts_prefix":  "say",
			"max_concurrency": concurrency,
		})
		out, err := AgentMap{}.Run(context.Background(), Env{StepID: "map", Job: job, Agents: agents}, params)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		base := out.Base()
		want := []string{"SAY \n\n A", "SAY \n\n B", "SAY \n\n C", "SAY \n\n D"}
		if !reflect.DeepEqual(base.Content, want) {
			t.Fatalf("concurrency %d: content %q", concurrency, base.Content)
		}
		if len(base.FilePaths) != 4 || filepath.Base(base.FilePaths[2]) != "output_2.md" {
			t.Fatalf("concurrency %d: paths %v", concurrency, base.FilePaths)
		}
		if len(provider.seen()) != 4 {
			t.Fatalf("concurrency %d: expected 4 calls", concurrency)
		}
	}
}

func TestAgentMapPropagatesFailure(t *testing.T) {
	job := newTestJob(t)
	boom := errors.New("model down")
	agents, _ := newAgents(t, func(string) (string, error) { return "", boom })
	params := prepare(t, "agent_map", map[string]any{"agent": "writer", "prompts": []any{"a"}})
	if _, err := (AgentMap{}).Run(context.Background(), Env{StepID: "map", Job: job, Agents: agents}, params); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestAgentMapUnknownAgent(t *testing.T) {
	job := newTestJob(t)
	agents, _ := newAgents(t, upper)
	params := prepare(t, "agent_map", map[string]any{"agent": "ghost", "prompts": []any{"a"}})
	if _, err := (AgentMap{}).Run(context.Background(), Env{StepID: "map", Job: job, Agents: agents}, params); err == nil {
		t.Fatalf("expected unknown agent error")
	}
}

func TestAgentProjectionRetriesOnce(t *testing.T) {
	job := newTestJob(t)
	calls := 0
	agents, provider := newAgents(t, func(string) (string, error) {
		calls++
		if calls == 1 {
			return "I could not decide.", nil
		}
		return `Sure: ["x", "y", "z"] done`, nil
	})
	params := prepare(t, "agent_projection", map[string]any{
		"agent":      "writer",
		"prompt":     []any{"list ids"},
		"max_number": 2,
	})
	out, err := AgentProjection{}.Run(context.Background(), Env{StepID: "proj", Job: job, Agents: agents}, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(out.Base().Content, []string{"x", "y"}) {
		t.Fatalf("content %q", out.Base().Content)
	}
	seen := provider.seen()
	if len(seen) != 2 || seen[1] != projectionRetryPrompt {
		t.Fatalf("expected one retry, prompts %q", seen)
	}
	if !strings.Contains(seen[0], "valid JSON list of strings") {
		t.Fatalf("structured instruction missing: %q", seen[0])
	}
}

func TestParseList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["a", 2]`, []string{"a", "2"}},
		{"prefix [\n\"a\",\n\"b\"\n] suffix", []string{"a", "b"}},
		{"- one\n* two\n• three\nplain", []string{"one", "two", "three"}},
		{"nothing here", []string{}},
	}
	for _, tc := range cases {
		if got := ParseList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseList(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestAgentReduceCombinesInputs(t *testing.T) {
	job := newTestJob(t)
	note := filepath.Join(job.Input, "note.txt")
	if err := os.WriteFile(note, []byte("from file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	agents, provider := newAgents(t, func(string) (string, error) { return "report", nil })
	params := prepare(t, "agent_reduce", map[string]any{
		"agent":         "writer",
		"prompts":       []any{"first", "second"},
		"files_to_read": []any{"input/note.txt"},
	})
	out, err := AgentReduce{}.Run(context.Background(), Env{StepID: "reduce", Job: job, Agents: agents}, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(out.Base().Content, []string{"report"}) {
		t.Fatalf("content %q", out.Base().Content)
	}
	want := "I am providing multiple pieces of information below:\n\nfirst\n\n---\n\nsecond\n\n---\n\nfrom file\n\nTASK:\n" + defaultReduceInstruction
	if seen := provider.seen(); len(seen) != 1 || seen[0] != want {
		t.Fatalf("prompt %q", seen)
	}
	if _, err := os.Stat(filepath.Join(job.Output, "summary_report.md")); err != nil {
		t.Fatalf("expected output copy: %v", err)
	}
}

func TestToMapIncludesNullFilePaths(t *testing.T) {
	m, err := ToMap(&EchoOutput{BaseOutput: BaseOutput{Content: []string{"x"}}})
	if err != nil {
		t.Fatalf("to map: %v", err)
	}
	if _, ok := m["file_paths"]; !ok {
		t.Fatalf("file_paths key missing: %#v", m)
	}
	if err := NewDefaultRegistry().ValidateOutput("echo", m); err != nil {
		t.Fatalf("output invalid: %v", err)
	}
}
