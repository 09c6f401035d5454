package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Research Digest":        "research-digest",
		"  Café Crème  ":         "cafe-creme",
		"arXiv: Weekly / Papers": "arxiv-weekly-papers",
		"!!!":                    "job",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q)=%q want %q", in, got, want)
		}
	}
	if got := Slugify(strings.Repeat("a", 100)); len(got) != maxSlugLen {
		t.Fatalf("expected slug capped at %d, got %d", maxSlugLen, len(got))
	}
}

func TestCreateJobLayout(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	jc, err := m.CreateJob("Daily Digest")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if jc.Name() != "20260304_050607_daily-digest" {
		t.Fatalf("unexpected job dir %q", jc.Name())
	}
	for _, dir := range []string{jc.Input, jc.Internal, jc.Output} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
	meta, err := os.ReadFile(filepath.Join(jc.Internal, metaFile))
	if err != nil || !strings.Contains(string(meta), "Original Name: Daily Digest") {
		t.Fatalf("unexpected meta %q err=%v", meta, err)
	}

	again, err := m.CreateJob("Daily Digest")
	if err != nil {
		t.Fatalf("create collision: %v", err)
	}
	if again.Name() != "20260304_050607_daily-digest-1" {
		t.Fatalf("expected collision suffix, got %q", again.Name())
	}
}

func TestReservedSlug(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	jc, err := m.CreateJob("CON")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(jc.Name(), "_safe-con") {
		t.Fatalf("expected reserved slug prefix, got %q", jc.Name())
	}
}

func TestResolve(t *testing.T) {
	jc := &JobContext{Root: "/work/job"}
	if got := jc.Resolve("input/a.md"); got != "/work/job/input/a.md" {
		t.Fatalf("unexpected %q", got)
	}
	if got := jc.Resolve("/etc/../tmp/x"); got != "/tmp/x" {
		t.Fatalf("unexpected %q", got)
	}
}
