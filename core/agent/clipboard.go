package agent

import (
	"strings"
	"sync"
)

// DefaultClipboardTTL is the number of turns an entry survives without being re-added.
const DefaultClipboardTTL = 10

// EntryKind distinguishes clipboard entry variants.
type EntryKind string

const (
	KindFile       EntryKind = "file"
	KindToolResult EntryKind = "tool_result"
	KindTodo       EntryKind = "todo"
)

// Entry is one clipboard item. Key identifies it for deduplication.
type Entry struct {
	Kind EntryKind
	Key  string
	TTL  int

	Path    string
	Content string

	ToolName string
	CallID   string
	Results  []string

	Task string
	Done bool
}

// Clipboard is an agent's ephemeral working context. Entries age by one per
// turn and disappear when their ttl reaches zero.
type Clipboard struct {
	mu      sync.Mutex
	ttl     int
	budget  int
	counter TokenCounter
	entries []Entry
}

// ClipboardOption customises a clipboard.
type ClipboardOption func(*Clipboard)

// WithTTL sets the ttl given to new and re-added entries.
func WithTTL(ttl int) ClipboardOption {
	return func(c *Clipboard) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenBudget caps the rendered clipboard size. Zero disables the cap.
func WithTokenBudget(tokens int, counter TokenCounter) ClipboardOption {
	return func(c *Clipboard) {
		c.budget = tokens
		if counter != nil {
			c.counter = counter
		}
	}
}

func NewClipboard(opts ...ClipboardOption) *Clipboard {
	c := &Clipboard{ttl: DefaultClipboardTTL, counter: HeuristicCounter{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func FileKey(path string) string   { return "file:" + path }
func ToolKey(callID string) string { return "tool:" + callID }
func TodoKey(task string) string   { return "todo:" + task }

// AddFile adds or refreshes a file entry.
func (c *Clipboard) AddFile(path, content string) {
	c.put(Entry{Kind: KindFile, Key: FileKey(path), Path: path, Content: content})
}

// AddToolResult adds or refreshes the results of one tool call.
func (c *Clipboard) AddToolResult(toolName, callID string, results []string) {
	c.put(Entry{
		Kind:     KindToolResult,
		Key:      ToolKey(callID),
		ToolName: toolName,
		CallID:   callID,
		Results:  append([]string(nil), results...),
	})
}

// AddTodo adds an open task. Re-adding an existing task only refreshes its ttl.
func (c *Clipboard) AddTodo(task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(TodoKey(task)); i >= 0 {
		c.entries[i].TTL = c.ttl
		return
	}
	c.putLocked(Entry{Kind: KindTodo, Key: TodoKey(task), Task: task})
}

// CompleteTodo marks a task done. It reports whether the task was present.
func (c *Clipboard) CompleteTodo(task string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(TodoKey(task))
	if i < 0 {
		return false
	}
	c.entries[i].Done = true
	return true
}

// Forget ages every entry by one turn and drops the expired ones.
func (c *Clipboard) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		e.TTL--
		if e.TTL > 0 {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = Entry{}
	}
	c.entries = kept
}

// Get returns a copy of the entry stored under key.
func (c *Clipboard) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(key); i >= 0 {
		return cloneEntry(c.entries[i]), true
	}
	return Entry{}, false
}

// Entries returns copies of all entries in insertion order.
func (c *Clipboard) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

func (c *Clipboard) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Render formats the clipboard as markdown. It does not modify the clipboard
// and yields the same text for the same contents.
func (c *Clipboard) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return renderEntries(c.entries)
}

func (c *Clipboard) put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(e)
}

func (c *Clipboard) putLocked(e Entry) {
	e.TTL = c.ttl
	if i := c.indexLocked(e.Key); i >= 0 {
		c.entries[i] = e
	} else {
		c.entries = append(c.entries, e)
	}
	c.enforceBudgetLocked(e.Key)
}

// enforceBudgetLocked evicts the entry closest to expiry (oldest on ties)
// until the rendered clipboard fits, never evicting keep.
func (c *Clipboard) enforceBudgetLocked(keep string) {
	if c.budget <= 0 {
		return
	}
	for c.counter.Count(renderEntries(c.entries)) > c.budget {
		victim := -1
		for i, e := range c.entries {
			if e.Key == keep {
				continue
			}
			if victim < 0 || e.TTL < c.entries[victim].TTL {
				victim = i
			}
		}
		if victim < 0 {
			return
		}
		c.entries = append(c.entries[:victim], c.entries[victim+1:]...)
	}
}

func (c *Clipboard) indexLocked(key string) int {
	for i, e := range c.entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func cloneEntry(e Entry) Entry {
	e.Results = append([]string(nil), e.Results...)
	return e
}

func renderEntries(entries []Entry) string {
	var todos, files, tools strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case KindTodo:
			mark := "[ ]"
			if e.Done {
				mark = "[x]"
			}
			todos.WriteString(mark + " " + e.Task + "\n")
		case KindFile:
			files.WriteString("#### File: " + e.Path + "\n")
			files.WriteString("```\n" + e.Content + "\n```\n")
		case KindToolResult:
			tools.WriteString("#### Tool: " + e.ToolName + " (" + e.CallID + ")\n")
			for _, r := range e.Results {
				tools.WriteString("```\n" + r + "\n```\n")
			}
		}
	}
	var sections []string
	if todos.Len() > 0 {
		sections = append(sections, "### TODO LIST\n"+todos.String())
	}
	if files.Len() > 0 {
		sections = append(sections, "### ACCESSED FILES\n"+files.String())
	}
	if tools.Len() > 0 {
		sections = append(sections, "### TOOL RESULTS\n"+tools.String())
	}
	if len(sections) == 0 {
		return "Clipboard is currently empty."
	}
	return strings.Join(sections, "\n\n")
}
