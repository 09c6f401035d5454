package steps

import (
	"context"
	"fmt"
)

// FileRead loads files_to_read and exposes their contents. Each item of
// content pairs positionally with the source path in file_paths.
type FileRead struct{}

func (FileRead) Type() string { return "file_read" }

func (FileRead) ParamsSchema() map[string]any {
	return ParamsSchema(CommonDefaults{}, nil)
}

func (FileRead) OutputSchema() map[string]any { return OutputSchema(nil) }

func (FileRead) Run(ctx context.Context, env Env, params map[string]any) (Output, error) {
	var p CommonParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	files, contents, err := ReadInputs(env, p.FilesToRead)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("files_to_read resolved to no files")
	}
	env.logf("read %d file(s)", len(files))
	out := &BaseOutput{Content: contents, FilePaths: files}
	if p.WriteResponseToOutput && env.Job != nil {
		sub, err := subDirectory(p.SubDirectory)
		if err != nil {
			return nil, err
		}
		if err := exportExisting(env, files, sub, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}
