package agent

import (
	"sync"
	"time"
)

// Memory is an agent's persisted conversation plus its clipboard. The
// clipboard frame is built per call and never enters the history.
type Memory struct {
	mu        sync.Mutex
	messages  []Message
	clipboard *Clipboard
	loc       *time.Location
}

// NewMemory builds an empty memory. A nil location means UTC.
func NewMemory(clipboard *Clipboard, loc *time.Location) *Memory {
	if clipboard == nil {
		clipboard = NewClipboard()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Memory{clipboard: clipboard, loc: loc}
}

func (m *Memory) Append(msg Message) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}

// Messages returns a copy of the persisted history.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Reset clears the history and starts a fresh clipboard with the same settings.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	fresh := &Clipboard{ttl: m.clipboard.ttl, budget: m.clipboard.budget, counter: m.clipboard.counter}
	m.clipboard = fresh
}

func (m *Memory) Clipboard() *Clipboard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clipboard
}

// Forget marks a turn boundary on the clipboard.
func (m *Memory) Forget() {
	m.Clipboard().Forget()
}

// ContextMessage renders the clipboard and the current time as a system frame.
func (m *Memory) ContextMessage(now time.Time) Message {
	content := "## CURRENT CLIPBOARD\n" +
		"The following information is your current working context.\n\n" +
		m.Clipboard().Render() + "\n\n\n=====\n" +
		"## CURRENT DATE TIME\n" +
		now.In(m.loc).Format("2006-01-02 15:04:05 MST -0700") + "\n\n====="
	return Message{Role: RoleSystem, Content: content}
}

// EstimateTokens counts history plus the rendered clipboard.
func (m *Memory) EstimateTokens(counter TokenCounter) int {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	total := 0
	for _, msg := range m.Messages() {
		total += counter.Count(msg.Content)
	}
	return total + counter.Count(m.Clipboard().Render())
}
