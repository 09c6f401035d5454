// Package workspace owns the per-run working directories steps read from and
// write to.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	inputDir    = "input"
	internalDir = "internal"
	outputDir   = "output"
	metaFile    = "meta.txt"
	maxSlugLen  = 64
)

var reserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "lpt1": true,
}

// JobContext is the directory layout of one run.
type JobContext struct {
	Root     string
	Input    string
	Internal string
	Output   string
}

// Name is the base name of the job directory.
func (j *JobContext) Name() string {
	if j == nil {
		return ""
	}
	return filepath.Base(j.Root)
}

// Resolve roots a relative path under the job directory. Absolute paths are
// returned cleaned.
func (j *JobContext) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(j.Root, p)
}

// Manager creates job directories under a root.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager ensures root exists.
func NewManager(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs, now: time.Now}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// CreateJob makes <root>/<timestamp>_<slug> with input/, internal/ and output/.
func (m *Manager) CreateJob(name string) (*JobContext, error) {
	now := m.now()
	slug := Slugify(name)
	if reserved[slug] {
		slug = "safe-" + slug
	}
	base := now.Format("20060102_150405") + "_" + slug

	var root string
	for i := 0; ; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		root = filepath.Join(m.root, candidate)
		err := os.Mkdir(root, 0o755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create job dir: %w", err)
		}
	}
	jc := &JobContext{
		Root:     root,
		Input:    filepath.Join(root, inputDir),
		Internal: filepath.Join(root, internalDir),
		Output:   filepath.Join(root, outputDir),
	}
	for _, dir := range []string{jc.Input, jc.Internal, jc.Output} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Base(dir), err)
		}
	}
	meta := fmt.Sprintf("Original Name: %s\nCreated: %s\n", name, now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(jc.Internal, metaFile), []byte(meta), 0o644); err != nil {
		return nil, fmt.Errorf("write job meta: %w", err)
	}
	return jc, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify folds accents, lowercases and joins words with dashes.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "job"
	}
	return slug
}
