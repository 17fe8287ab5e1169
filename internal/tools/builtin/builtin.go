package builtin

import (
	"github.com/nextlevelbuilder/clawcore/internal/tools"
)

// RegisterAll wires the stock tool set into a registry. The task runner may
// be nil when sub-agents are disabled.
func RegisterAll(reg *tools.Registry, bash *BashTool, taskRun TaskRunner) error {
	defs := []*tools.Definition{
		Read(),
		Write(),
		Edit(),
		Glob(),
		Grep(),
		Ls(),
		bash.Definition(),
		bash.OutputDefinition(),
		Task(taskRun),
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
