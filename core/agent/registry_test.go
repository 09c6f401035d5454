package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseBlueprint(t *testing.T) {
	bp, err := ParseBlueprint([]byte("---\r\nname: summariser\r\nmodel: qwen2.5\r\nclipboard_ttl: 4\r\n---\r\nYou summarise papers.\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bp.Name != "summariser" || bp.Model != "qwen2.5" || bp.ClipboardTTL != 4 {
		t.Fatalf("unexpected blueprint %+v", bp)
	}
	if bp.SystemPrompt != "You summarise papers." {
		t.Fatalf("unexpected prompt %q", bp.SystemPrompt)
	}

	if _, err := ParseBlueprint([]byte("no header")); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected missing frontmatter, got %v", err)
	}
	if _, err := ParseBlueprint([]byte("---\nname: x\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected malformed frontmatter, got %v", err)
	}
	bp, err = ParseBlueprint([]byte("---\nname: x\n---\n"))
	if err != nil || bp.SystemPrompt != defaultSystemPrompt {
		t.Fatalf("expected default system prompt, got %q %v", bp.SystemPrompt, err)
	}
}

func TestRegistryLoadDirAndNewAgent(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"researcher.md": "---\ndescription: digs\n---\nResearch things.\n",
		"writer.md":     "---\nname: author\nclipboard_ttl: 2\n---\nWrite things.\n",
		"broken.md":     "nothing here",
		"ignored.txt":   "---\nname: nope\n---\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	reg := NewRegistry(ProviderFunc(nil), WithClipboardTTL(7))
	err := reg.LoadDir(dir)
	if err == nil {
		t.Fatalf("expected broken blueprint to be reported")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "author" || names[1] != "researcher" {
		t.Fatalf("unexpected names %v", names)
	}

	a, err := reg.NewAgent("researcher")
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	a.Memory().Clipboard().AddFile("/x", "x")
	if e, _ := a.Memory().Clipboard().Get(FileKey("/x")); e.TTL != 7 {
		t.Fatalf("expected registry ttl, got %d", e.TTL)
	}
	b, _ := reg.NewAgent("author")
	b.Memory().Clipboard().AddFile("/x", "x")
	if e, _ := b.Memory().Clipboard().Get(FileKey("/x")); e.TTL != 2 {
		t.Fatalf("expected blueprint ttl override, got %d", e.TTL)
	}
	if a.Memory() == b.Memory() {
		t.Fatalf("agents must not share memory")
	}

	if _, err := reg.NewAgent("ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	if err := reg.Register(Blueprint{Name: " "}); err == nil {
		t.Fatalf("expected name required error")
	}
}
