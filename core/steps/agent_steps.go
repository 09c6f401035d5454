package steps

import (
	"fmt"

	"github.com/cordum/blackboard/core/agent"
)

func newAgent(env Env, name string) (*agent.Agent, error) {
	if env.Agents == nil {
		return nil, fmt.Errorf("no agent registry configured")
	}
	a, err := env.Agents.NewAgent(name)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// attachInputs loads files_to_read into the agent clipboard.
func attachInputs(env Env, a *agent.Agent, paths []string) error {
	files, err := ResolveInputFiles(env, paths)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := a.AddFile(f); err != nil {
			return err
		}
	}
	return nil
}
