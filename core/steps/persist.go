package steps

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolveInputFiles expands files_to_read against the job root. Directories
// are walked recursively; the result is deduplicated and sorted.
func ResolveInputFiles(env Env, paths []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, raw := range paths {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p := raw
		if env.Job != nil {
			p = env.Job.Resolve(raw)
		} else if abs, err := filepath.Abs(raw); err == nil {
			p = abs
		}
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("input file %s does not exist", raw)
			}
			return nil, fmt.Errorf("stat %s: %w", raw, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", raw, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Persist writes content items according to the common params and records
// the written paths on out. Items go to internal/<sub_directory>; with
// write_response_to_output they are also copied to output/.
func Persist(env Env, common CommonParams, out *BaseOutput) error {
	if out == nil || env.Job == nil {
		return nil
	}
	sub, err := subDirectory(common.SubDirectory)
	if err != nil {
		return err
	}
	if !common.WriteResponseToFile {
		if common.WriteResponseToOutput && len(out.FilePaths) > 0 {
			return exportExisting(env, out.FilePaths, sub, true)
		}
		return nil
	}
	if len(out.Content) == 0 {
		return nil
	}
	dir := filepath.Join(env.Job.Internal, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	names := outputNames(env.StepID, common, len(out.Content))
	written := make([]string, 0, len(out.Content))
	for i, content := range out.Content {
		path := filepath.Join(dir, names[i])
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	out.FilePaths = written
	if common.WriteResponseToOutput {
		return exportExisting(env, written, sub, false)
	}
	return nil
}

func subDirectory(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	clean := filepath.Clean(raw)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sub_directory %q escapes the job directory", raw)
	}
	return clean, nil
}

func outputNames(stepID string, common CommonParams, n int) []string {
	names := make([]string, n)
	if n == 1 {
		name := strings.TrimSpace(common.OutputFilename)
		if name == "" {
			name = stepID + ".md"
		}
		names[0] = filepath.Base(name)
		return names
	}
	prefix := strings.TrimSpace(common.OutputFilenamePrefix)
	if prefix == "" {
		prefix = strings.TrimSuffix(filepath.Base(strings.TrimSpace(common.OutputFilename)), filepath.Ext(common.OutputFilename))
	}
	if prefix == "" || prefix == "." {
		prefix = stepID
	}
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d.md", prefix, i)
	}
	return names
}

// exportExisting places paths under output/<sub>. With link set it tries a
// symlink first and falls back to copying.
func exportExisting(env Env, paths []string, sub string, link bool) error {
	dir := filepath.Join(env.Job.Output, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, src := range paths {
		dst := filepath.Join(dir, filepath.Base(src))
		_ = os.Remove(dst)
		if link {
			if abs, err := filepath.Abs(src); err == nil && os.Symlink(abs, dst) == nil {
				continue
			}
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// ReadInputs returns the contents of the resolved files_to_read.
func ReadInputs(env Env, paths []string) ([]string, []string, error) {
	files, err := ResolveInputFiles(env, paths)
	if err != nil {
		return nil, nil, err
	}
	contents := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f, err)
		}
		contents = append(contents, string(data))
	}
	return files, contents, nil
}
