package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/steps"
)

// LoadFailure records a manifest that was rejected during load.
type LoadFailure struct {
	Path string
	Err  error
}

// LoadReport summarises a catalog load.
type LoadReport struct {
	Loaded []string
	Failed []LoadFailure
}

// Err joins every load failure, or returns nil.
func (r LoadReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

// Catalog holds the validated manifests keyed by id. Readers see an
// immutable snapshot; Reload swaps it atomically, so runs holding a manifest
// from the previous snapshot are unaffected. Manifests added with Register
// survive reloads unless a file in the directory claims the same id.
type Catalog struct {
	registry *steps.Registry
	opts     VerifyOptions
	snapshot atomic.Pointer[map[string]*Manifest]

	mu         sync.Mutex // serialises writers
	registered map[string]*Manifest
}

func NewCatalog(registry *steps.Registry, opts VerifyOptions) *Catalog {
	c := &Catalog{registry: registry, opts: opts, registered: map[string]*Manifest{}}
	empty := map[string]*Manifest{}
	c.snapshot.Store(&empty)
	return c
}

// Reload replaces the catalog with every valid *.yaml/*.yml manifest in dir.
// Invalid manifests are reported and left out; the swap happens even when
// some files fail.
func (c *Catalog) Reload(dir string) (LoadReport, error) {
	var report LoadReport
	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("read workflow dir: %w", err)
	}
	next := map[string]*Manifest{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := ParseFile(path, c.registry)
		if err == nil {
			if errs := VerifyLogic(m, c.registry, c.opts); len(errs) > 0 {
				err = errs
			}
		}
		if err == nil {
			if _, dup := next[m.ID]; dup {
				err = fmt.Errorf("duplicate workflow id %q", m.ID)
			}
		}
		if err != nil {
			report.Failed = append(report.Failed, LoadFailure{Path: path, Err: err})
			logging.Error("workflow-catalog", "manifest rejected", "path", path, "error", err)
			continue
		}
		next[m.ID] = m
		report.Loaded = append(report.Loaded, m.ID)
	}
	sort.Strings(report.Loaded)

	c.mu.Lock()
	for _, id := range sortedKeys(c.registered) {
		if _, shadowed := next[id]; shadowed {
			logging.Warn("workflow-catalog", "registered manifest shadowed by file", "workflow_id", id)
			continue
		}
		next[id] = c.registered[id]
	}
	c.snapshot.Store(&next)
	c.mu.Unlock()
	logging.Info("workflow-catalog", "catalog loaded", "dir", dir, "loaded", len(report.Loaded), "failed", len(report.Failed))
	return report, nil
}

// Register validates and adds a single manifest. It is kept across reloads.
func (c *Catalog) Register(m *Manifest) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return &StructuralError{Path: "id", Msg: "manifest id required"}
	}
	if err := Validate(m, c.registry, c.opts); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[m.ID] = m
	cur := c.snapshot.Load()
	next := make(map[string]*Manifest, len(*cur)+1)
	for k, v := range *cur {
		next[k] = v
	}
	next[m.ID] = m
	c.snapshot.Store(&next)
	return nil
}

func (c *Catalog) Get(id string) (*Manifest, error) {
	m, ok := (*c.snapshot.Load())[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return m, nil
}

// IDs lists manifest ids in sorted order.
func (c *Catalog) IDs() []string {
	return sortedKeys(*c.snapshot.Load())
}
