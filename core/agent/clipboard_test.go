package agent

import (
	"strings"
	"testing"
)

func TestClipboardTTLRoundTrip(t *testing.T) {
	c := NewClipboard(WithTTL(10))
	c.AddFile("/tmp/a.md", "alpha")

	for i := 0; i < 9; i++ {
		c.Forget()
	}
	e, ok := c.Get(FileKey("/tmp/a.md"))
	if !ok || e.TTL != 1 {
		t.Fatalf("expected entry with ttl 1 after 9 forgets, got ok=%v ttl=%d", ok, e.TTL)
	}
	c.Forget()
	if _, ok := c.Get(FileKey("/tmp/a.md")); ok {
		t.Fatalf("expected entry purged after 10 forgets")
	}
}

func TestClipboardReAddResetsTTL(t *testing.T) {
	c := NewClipboard(WithTTL(10))
	c.AddFile("/tmp/a.md", "v1")
	for i := 0; i < 5; i++ {
		c.Forget()
	}
	c.AddFile("/tmp/a.md", "v2")
	e, _ := c.Get(FileKey("/tmp/a.md"))
	if e.TTL != 10 || e.Content != "v2" {
		t.Fatalf("expected refreshed entry, got ttl=%d content=%q", e.TTL, e.Content)
	}
	if c.Len() != 1 {
		t.Fatalf("expected dedup by key, got %d entries", c.Len())
	}
	for i := 0; i < 9; i++ {
		c.Forget()
	}
	if _, ok := c.Get(FileKey("/tmp/a.md")); !ok {
		t.Fatalf("entry should survive 9 forgets after re-add")
	}
}

func TestClipboardForgetPurgesOnlyExpired(t *testing.T) {
	c := NewClipboard(WithTTL(2))
	c.AddFile("/a", "a")
	c.Forget()
	c.AddToolResult("web_search", "call-1", []string{"r1"})
	c.Forget()
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Kind != KindToolResult || entries[0].TTL != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestClipboardRenderIsPureAndDeterministic(t *testing.T) {
	c := NewClipboard()
	if got := c.Render(); got != "Clipboard is currently empty." {
		t.Fatalf("unexpected empty render %q", got)
	}
	c.AddFile("/b.md", "bravo")
	c.AddTodo("summarise")
	c.AddToolResult("fetch", "c1", []string{"page"})
	c.AddFile("/a.md", "alpha")
	c.CompleteTodo("summarise")

	before := c.Entries()
	first := c.Render()
	second := c.Render()
	if first != second {
		t.Fatalf("render must be deterministic")
	}
	after := c.Entries()
	for i := range before {
		if before[i].TTL != after[i].TTL {
			t.Fatalf("render must not age entries")
		}
	}
	want := "### TODO LIST\n[x] summarise\n\n\n" +
		"### ACCESSED FILES\n#### File: /b.md\n```\nbravo\n```\n#### File: /a.md\n```\nalpha\n```\n\n\n" +
		"### TOOL RESULTS\n#### Tool: fetch (c1)\n```\npage\n```\n"
	if first != want {
		t.Fatalf("unexpected render:\n%s", first)
	}
}

func TestClipboardTodo(t *testing.T) {
	c := NewClipboard(WithTTL(3))
	c.AddTodo("task")
	c.Forget()
	c.AddTodo("task")
	if e, _ := c.Get(TodoKey("task")); e.TTL != 3 {
		t.Fatalf("expected ttl refresh, got %d", e.TTL)
	}
	if c.CompleteTodo("missing") {
		t.Fatalf("unknown todo must report false")
	}
}

func TestClipboardTokenBudgetEvictsClosestToExpiry(t *testing.T) {
	c := NewClipboard(WithTTL(5), WithTokenBudget(30, HeuristicCounter{}))
	c.AddFile("/old", strings.Repeat("o", 40))
	c.Forget()
	c.AddFile("/new", strings.Repeat("n", 40))

	if _, ok := c.Get(FileKey("/old")); ok {
		t.Fatalf("expected older, lower-ttl entry evicted")
	}
	if _, ok := c.Get(FileKey("/new")); !ok {
		t.Fatalf("the entry being added must never be evicted")
	}
}

func TestEntriesAreCopies(t *testing.T) {
	c := NewClipboard()
	c.AddToolResult("t", "id", []string{"x"})
	entries := c.Entries()
	entries[0].Results[0] = "mutated"
	if e, _ := c.Get(ToolKey("id")); e.Results[0] != "x" {
		t.Fatalf("Entries must not expose internal slices")
	}
}
