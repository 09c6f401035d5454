package workflowengine

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/blackboard/core/infra/artifacts"
	"github.com/cordum/blackboard/core/steps"
	wf "github.com/cordum/blackboard/core/workflow"
)

const echoManifest = `
name: echo topic
inputs:
  topic: {type: string}
  notes: {type: file, default: notes.md}
steps:
  - id: s1
    type: echo
    params: {text: "{{ inputs.topic }}"}
outputs:
  out: {value: "{{ steps.s1.content[0] }}"}
  notes: {value: "{{ inputs.notes }}"}
`

const blockingManifest = `
name: blocking
steps:
  - id: wait
    type: block
  - id: after
    type: echo
    params: {text: unreachable}
outputs:
  out: {value: "{{ steps.after.content[0] }}"}
`

// blockStep parks until released or its context ends.
type blockStep struct {
	started chan struct{}
	release chan struct{}
}

func (blockStep) Type() string                 { return "block" }
func (blockStep) ParamsSchema() map[string]any { return steps.ParamsSchema(steps.CommonDefaults{}, nil) }
func (blockStep) OutputSchema() map[string]any { return steps.OutputSchema(nil) }

func (b blockStep) Run(ctx context.Context, _ steps.Env, _ map[string]any) (steps.Output, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &steps.BaseOutput{Content: []string{"released"}}, nil
}

type fixture struct {
	mr      *miniredis.Miniredis
	client  redis.UniversalClient
	jobs    *wf.RedisJobStore
	arts    *artifacts.RedisStore
	catalog *wf.Catalog
	runner  *Runner
	block   blockStep
	sandbox string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	block := blockStep{started: make(chan struct{}), release: make(chan struct{})}
	reg := steps.NewDefaultRegistry()
	reg.MustRegister(block)
	catalog := wf.NewCatalog(reg, wf.VerifyOptions{})
	for id, src := range map[string]string{"echo": echoManifest, "blocking": blockingManifest} {
		m, err := wf.Parse([]byte(src), reg)
		if err != nil {
			t.Fatalf("parse %s: %v", id, err)
		}
		m.ID = id
		if err := catalog.Register(m); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	jobs := wf.NewRedisJobStoreWithClient(client)
	arts := artifacts.NewRedisStoreWithClient(client)
	engine := wf.NewEngine(reg, wf.WithJobStore(jobs), wf.WithArtifacts(arts))
	sandbox := "/srv/sandbox"
	runner := NewRunner(engine, catalog, jobs, "instance-a", WithSandboxRoot(sandbox))
	t.Cleanup(runner.Wait)
	return &fixture{mr: mr, client: client, jobs: jobs, arts: arts, catalog: catalog, runner: runner, block: block, sandbox: sandbox}
}
