package chainflow

import (
	"fmt"
	"sync"
)

// PluginRegistry holds plugin capability descriptors and their optional
// in-process implementations. It is a pure lookup structure: registration,
// unregistration and snapshot queries, nothing else.
//
// All query methods return copies, so callers never observe a registration
// happening concurrently with their iteration. The registry is constructed
// explicitly and passed by reference into ChainBuilder, ChainExecutor and
// SuggestionEngine; its lifecycle is owned by the hosting process.
type PluginRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	descriptor PluginDescriptor
	impl       Plugin // nil for descriptor-only registrations (e.g. via API)
}

// NewPluginRegistry creates an empty plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		entries: make(map[string]*registryEntry),
	}
}

// Register adds a descriptor-only entry. The plugin can participate in chain
// construction and suggestions but executing it fails until an
// implementation is attached via RegisterPlugin.
func (r *PluginRegistry) Register(desc PluginDescriptor) error {
	return r.register(desc, nil)
}

// RegisterPlugin adds a descriptor together with its execution contract.
func (r *PluginRegistry) RegisterPlugin(desc PluginDescriptor, impl Plugin) error {
	return r.register(desc, impl)
}

func (r *PluginRegistry) register(desc PluginDescriptor, impl Plugin) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, desc.Name)
	}
	r.entries[desc.Name] = &registryEntry{descriptor: desc.clone(), impl: impl}
	DebugLog("[REGISTRY] Registered plugin %q (in=%v out=%v autoChain=%v)",
		desc.Name, desc.InputTypes, desc.OutputTypes, desc.AutoChain)
	return nil
}

// Unregister removes a plugin by name. Removing an absent name is a no-op.
func (r *PluginRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a copy of the named descriptor.
func (r *PluginRegistry) Get(name string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return PluginDescriptor{}, false
	}
	return entry.descriptor.clone(), true
}

// Implementation returns the execution contract registered for a plugin,
// or nil when the plugin was registered descriptor-only.
func (r *PluginRegistry) Implementation(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[name]; ok {
		return entry.impl
	}
	return nil
}

// List returns a snapshot of all descriptors matching the filter, ordered by
// name. A nil filter matches everything.
func (r *PluginRegistry) List(filter func(PluginDescriptor) bool) []PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]PluginDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter == nil || filter(entry.descriptor) {
			descs = append(descs, entry.descriptor.clone())
		}
	}
	sortDescriptors(descs, nil)
	return descs
}

// FindProducers returns all descriptors whose output types contain the tag.
// Ordering is deterministic: descriptors collaborating with any of the given
// plugin names first, then chain priority descending, then name ascending.
func (r *PluginRegistry) FindProducers(tag string, collaborators ...string) []PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var collabSet map[string]bool
	if len(collaborators) > 0 {
		collabSet = make(map[string]bool, len(collaborators))
		for _, n := range collaborators {
			collabSet[n] = true
		}
	}

	var producers []PluginDescriptor
	for _, entry := range r.entries {
		if entry.descriptor.Produces(tag) {
			producers = append(producers, entry.descriptor.clone())
		}
	}
	sortDescriptors(producers, collabSet)
	return producers
}

// Len returns the number of registered plugins.
func (r *PluginRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
