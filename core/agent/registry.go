package agent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the blueprint did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("agent: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block was not closed.
	ErrMalformedFrontMatter = errors.New("agent: malformed frontmatter")
	// ErrUnknownAgent is returned when no blueprint carries the requested name.
	ErrUnknownAgent = errors.New("agent: unknown agent")
)

// Blueprint describes how to build an agent. The markdown body of a blueprint
// file is its system prompt.
type Blueprint struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Model        string `yaml:"model"`
	ClipboardTTL int    `yaml:"clipboard_ttl"`
	SystemPrompt string `yaml:"-"`
}

const defaultSystemPrompt = "You are a helpful AI agent."

// ParseBlueprint reads a markdown document with a `---` fenced YAML header.
func ParseBlueprint(content []byte) (Blueprint, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Blueprint{}, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Blueprint{}, ErrMalformedFrontMatter
	}
	var bp Blueprint
	if err := yaml.Unmarshal(parts[0], &bp); err != nil {
		return Blueprint{}, fmt.Errorf("agent: parse frontmatter: %w", err)
	}
	bp.SystemPrompt = strings.TrimSpace(string(parts[1]))
	if bp.SystemPrompt == "" {
		bp.SystemPrompt = defaultSystemPrompt
	}
	return bp, nil
}

// Registry holds blueprints and builds fresh agents from them.
type Registry struct {
	mu         sync.RWMutex
	blueprints map[string]Blueprint

	provider ModelProvider
	ttl      int
	budget   int
	counter  TokenCounter
	loc      *time.Location
}

// RegistryOption customises agents built by a registry.
type RegistryOption func(*Registry)

func WithClipboardTTL(ttl int) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

func WithClipboardBudget(tokens int, counter TokenCounter) RegistryOption {
	return func(r *Registry) {
		r.budget = tokens
		r.counter = counter
	}
}

// WithLocation sets the timezone shown in the clipboard date-time frame.
func WithLocation(loc *time.Location) RegistryOption {
	return func(r *Registry) { r.loc = loc }
}

func NewRegistry(provider ModelProvider, opts ...RegistryOption) *Registry {
	r := &Registry{
		blueprints: map[string]Blueprint{},
		provider:   provider,
		ttl:        DefaultClipboardTTL,
		counter:    HeuristicCounter{},
		loc:        time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a blueprint.
func (r *Registry) Register(bp Blueprint) error {
	bp.Name = strings.TrimSpace(bp.Name)
	if bp.Name == "" {
		return fmt.Errorf("agent: blueprint name required")
	}
	r.mu.Lock()
	r.blueprints[bp.Name] = bp
	r.mu.Unlock()
	return nil
}

// LoadDir registers every *.md blueprint in dir. A blueprint without a name
// takes its file stem.
func (r *Registry) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	var errs []error
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		bp, err := ParseBlueprint(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		if bp.Name == "" {
			bp.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if err := r.Register(bp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(name string) (Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[name]
	return bp, ok
}

// Names lists registered blueprints in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.blueprints))
	for name := range r.blueprints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewAgent builds an agent with empty memory from the named blueprint.
func (r *Registry) NewAgent(name string) (*Agent, error) {
	bp, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	ttl := r.ttl
	if bp.ClipboardTTL > 0 {
		ttl = bp.ClipboardTTL
	}
	clip := NewClipboard(WithTTL(ttl), WithTokenBudget(r.budget, r.counter))
	return New(bp, r.provider, NewMemory(clip, r.loc)), nil
}
