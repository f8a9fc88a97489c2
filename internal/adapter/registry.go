package adapter

import (
	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/model"
)

// Registry resolves an agent family to its Adapter. One Adapter instance is
// shared across every session of that family.
type Registry struct {
	adapters map[model.AgentFamily]Adapter
}

// NewRegistry builds a Registry from the configured per-family launch
// commands, wiring each known family to its adapter implementation.
func NewRegistry(commands map[model.AgentFamily]config.AgentCommand) *Registry {
	r := &Registry{adapters: make(map[model.AgentFamily]Adapter)}

	if cmd, ok := commands[model.FamilyClaude]; ok {
		r.adapters[model.FamilyClaude] = NewClaude(cmd)
	}
	if cmd, ok := commands[model.FamilyCodex]; ok {
		r.adapters[model.FamilyCodex] = NewCodex(cmd)
	}
	if cmd, ok := commands[model.FamilyGeminiACP]; ok {
		r.adapters[model.FamilyGeminiACP] = NewACP(cmd)
	}

	return r
}

// Get returns the Adapter for family, or false if no command is configured
// for it.
func (r *Registry) Get(family model.AgentFamily) (Adapter, bool) {
	a, ok := r.adapters[family]
	return a, ok
}

// NewRegistryFrom builds a Registry directly from a family->Adapter map,
// bypassing command-based construction. Used by tests to inject fakes.
func NewRegistryFrom(adapters map[model.AgentFamily]Adapter) *Registry {
	return &Registry{adapters: adapters}
}
