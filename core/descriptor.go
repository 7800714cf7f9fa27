package chainflow

import (
	"context"
	"fmt"
	"sort"
)

// IOSpec describes the typed input and output tags of a plugin. Tags are
// opaque strings from an open vocabulary; matching is by tag equality.
type IOSpec struct {
	Inputs  []string `json:"inputs" yaml:"inputs"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}

// Plugin is the uniform execution contract every loaded plugin exposes.
// Plugins are assumed to be validated and loaded before registration;
// packaging and sandboxing are handled outside this engine.
type Plugin interface {
	// GetIOSpec returns the input and output tags this plugin handles.
	GetIOSpec() IOSpec

	// Execute runs the plugin against resolved input values and returns one
	// value per output tag. Failures are reported as *PluginError where the
	// plugin distinguishes codes, or any error otherwise.
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// PluginFunc adapts a plain function into the Plugin contract.
// Used heavily by tests and by hosts that register in-process plugins.
type PluginFunc struct {
	Spec IOSpec
	Fn   func(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

func (p PluginFunc) GetIOSpec() IOSpec { return p.Spec }

func (p PluginFunc) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return p.Fn(ctx, inputs)
}

// PluginDescriptor is the immutable capability record kept per registered
// plugin. The registry hands out copies; callers never share backing slices
// with the registry.
type PluginDescriptor struct {
	Name             string   `json:"name" yaml:"name"`
	InputTypes       []string `json:"inputTypes" yaml:"inputTypes"`
	OutputTypes      []string `json:"outputTypes" yaml:"outputTypes"`
	CollaboratesWith []string `json:"collaboratesWith,omitempty" yaml:"collaboratesWith,omitempty"`
	AutoChain        bool     `json:"autoChain" yaml:"autoChain"`
	ChainPriority    float64  `json:"chainPriority" yaml:"chainPriority"`
}

// Validate checks the descriptor invariants. Output tags must be non-empty
// (a plugin that produces nothing cannot participate in a chain). Input tags
// may be empty for source plugins. ChainPriority must stay in [0, 1].
func (d PluginDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has empty name")
	}
	if len(d.OutputTypes) == 0 {
		return fmt.Errorf("descriptor %q has no output types", d.Name)
	}
	for _, tag := range d.OutputTypes {
		if tag == "" {
			return fmt.Errorf("descriptor %q has an empty output tag", d.Name)
		}
	}
	for _, tag := range d.InputTypes {
		if tag == "" {
			return fmt.Errorf("descriptor %q has an empty input tag", d.Name)
		}
	}
	if d.ChainPriority < 0 || d.ChainPriority > 1 {
		return fmt.Errorf("descriptor %q has chain priority %v outside [0,1]", d.Name, d.ChainPriority)
	}
	return nil
}

// Produces reports whether the descriptor outputs the given tag.
func (d PluginDescriptor) Produces(tag string) bool {
	for _, t := range d.OutputTypes {
		if t == tag {
			return true
		}
	}
	return false
}

// Consumes reports whether the descriptor requires the given input tag.
func (d PluginDescriptor) Consumes(tag string) bool {
	for _, t := range d.InputTypes {
		if t == tag {
			return true
		}
	}
	return false
}

// CollaboratesWithAny reports whether the descriptor names any of the given
// plugins as collaborators.
func (d PluginDescriptor) CollaboratesWithAny(names map[string]bool) bool {
	for _, n := range d.CollaboratesWith {
		if names[n] {
			return true
		}
	}
	return false
}

// clone returns a deep copy so registry snapshots never alias caller slices.
func (d PluginDescriptor) clone() PluginDescriptor {
	c := d
	c.InputTypes = append([]string(nil), d.InputTypes...)
	c.OutputTypes = append([]string(nil), d.OutputTypes...)
	c.CollaboratesWith = append([]string(nil), d.CollaboratesWith...)
	return c
}

// sortDescriptors orders descriptors for deterministic producer selection:
// collaboration matches first, then chain priority descending, then name
// ascending. collaborators may be nil when no selection context exists.
func sortDescriptors(descs []PluginDescriptor, collaborators map[string]bool) {
	sort.SliceStable(descs, func(i, j int) bool {
		if collaborators != nil {
			ci := descs[i].CollaboratesWithAny(collaborators)
			cj := descs[j].CollaboratesWithAny(collaborators)
			if ci != cj {
				return ci
			}
		}
		if descs[i].ChainPriority != descs[j].ChainPriority {
			return descs[i].ChainPriority > descs[j].ChainPriority
		}
		return descs[i].Name < descs[j].Name
	})
}
