package chainflow

import (
	"fmt"
	"sort"
)

// Goal is a structured goal specification: the output tag the chain must
// produce, plus input tags the caller supplies externally. Seed inputs are
// authoritative: no producer search happens for a seeded tag even when a
// registered plugin could produce it.
type Goal struct {
	RequiredOutputTag string   `json:"requiredOutputTag" yaml:"requiredOutputTag"`
	SeedInputs        []string `json:"seedInputs,omitempty" yaml:"seedInputs,omitempty"`
}

// ChainBuilder turns a goal and a candidate descriptor set into a validated
// acyclic Chain. Building never executes plugins and never returns a partial
// chain: any failure is a typed error.
type ChainBuilder struct {
	registry *PluginRegistry
}

// NewChainBuilder creates a builder over the given registry.
func NewChainBuilder(registry *PluginRegistry) *ChainBuilder {
	return &ChainBuilder{registry: registry}
}

// buildState tracks one backward construction pass.
type buildState struct {
	candidates []PluginDescriptor
	explicit   bool            // candidates were supplied by the caller
	seeds      map[string]bool // externally supplied tags
	nodes      map[string]*ChainNode
	open       map[string]bool   // plugins whose inputs are still being resolved
	resolvedBy map[string]string // tag -> producer node ID
	selected   map[string]bool   // plugin names already in the chain (locality bonus)
}

// BuildChain constructs a chain backward from the goal's required output
// tag. When candidates is nil the full registry snapshot is used. Producer
// selection is deterministic: among candidates producing a tag, plugins
// collaborating with an already-selected node win, then higher chain
// priority, then name ascending. Auto-chain gating: a plugin with
// AutoChain=false is only selected when the caller passed candidates
// explicitly and it is the sole option for the tag.
func (cb *ChainBuilder) BuildChain(goal Goal, candidates []PluginDescriptor) (*Chain, error) {
	if goal.RequiredOutputTag == "" {
		return nil, fmt.Errorf("goal has no required output tag")
	}

	st := &buildState{
		candidates: candidates,
		explicit:   candidates != nil,
		seeds:      make(map[string]bool, len(goal.SeedInputs)),
		nodes:      make(map[string]*ChainNode),
		open:       make(map[string]bool),
		resolvedBy: make(map[string]string),
		selected:   make(map[string]bool),
	}
	if candidates == nil {
		st.candidates = cb.registry.List(nil)
	}
	for _, tag := range goal.SeedInputs {
		st.seeds[tag] = true
	}

	if st.seeds[goal.RequiredOutputTag] {
		return nil, fmt.Errorf("goal output tag %q is listed as a seed input", goal.RequiredOutputTag)
	}

	goalNode, err := cb.resolve(st, goal.RequiredOutputTag, nil)
	if err != nil {
		return nil, err
	}

	chain := &Chain{
		GoalTag:    goal.RequiredOutputTag,
		GoalNode:   goalNode,
		SeedInputs: append([]string(nil), goal.SeedInputs...),
	}
	chain.Nodes = topologicalSort(st.nodes)
	chain.Edges = collectEdges(chain.Nodes)
	chain.ID = chain.fingerprint()

	if err := chain.Validate(); err != nil {
		// Construction guarantees validity; a failure here is a defect.
		return nil, fmt.Errorf("built chain failed validation: %w", err)
	}
	return chain, nil
}

// resolve selects a producer for the tag and recursively resolves the
// producer's own inputs. The returned node ID is the chosen producer.
// path carries the tags on the current resolution branch for cycle
// detection.
func (cb *ChainBuilder) resolve(st *buildState, tag string, path []string) (string, error) {
	for _, t := range path {
		if t == tag {
			return "", &CyclicDependencyError{Tag: tag, Path: append(append([]string(nil), path...), tag)}
		}
	}
	if nodeID, ok := st.resolvedBy[tag]; ok {
		return nodeID, nil
	}

	desc, err := cb.selectProducer(st, tag, path)
	if err != nil {
		return "", err
	}

	// A plugin already in the chain resolves every tag it outputs through
	// its existing node; one plugin never appears twice.
	if existing, ok := st.nodes[desc.Name]; ok {
		st.resolvedBy[tag] = existing.ID
		return existing.ID, nil
	}

	node := &ChainNode{
		ID:             desc.Name,
		PluginName:     desc.Name,
		ResolvedInputs: make(map[string]string),
	}
	st.nodes[node.ID] = node
	st.open[desc.Name] = true
	st.selected[desc.Name] = true
	st.resolvedBy[tag] = node.ID

	childPath := append(append([]string(nil), path...), tag)
	for _, input := range desc.InputTypes {
		if st.seeds[input] {
			node.SeedInputs = append(node.SeedInputs, input)
			continue
		}
		producer, err := cb.resolve(st, input, childPath)
		if err != nil {
			return "", err
		}
		node.ResolvedInputs[input] = producer
	}
	sort.Strings(node.SeedInputs)
	delete(st.open, desc.Name)

	return node.ID, nil
}

// selectProducer applies the ordering and gating rules to pick exactly one
// producer for a tag from the candidate set.
func (cb *ChainBuilder) selectProducer(st *buildState, tag string, path []string) (PluginDescriptor, error) {
	var all []PluginDescriptor
	seenNames := make(map[string]bool)
	for _, d := range st.candidates {
		if !d.Produces(tag) {
			continue
		}
		if seenNames[d.Name] {
			// Two indistinguishable candidates claim the same tag; the
			// tie-break cannot produce a unique resolver. Surfaced as a
			// defect rather than silently merged.
			return PluginDescriptor{}, &AmbiguousFanInError{Tag: tag, Producers: []string{d.Name, d.Name}}
		}
		seenNames[d.Name] = true
		all = append(all, d)
	}

	eligible := make([]PluginDescriptor, 0, len(all))
	for _, d := range all {
		if d.AutoChain {
			eligible = append(eligible, d)
		}
	}
	// Explicit inclusion overrides the auto-chain flag, but only when the
	// excluded plugin is the sole option for the tag.
	if len(eligible) == 0 && st.explicit && len(all) == 1 {
		eligible = all
	}
	if len(eligible) == 0 {
		return PluginDescriptor{}, &NoViableChainError{Tag: tag}
	}

	sortDescriptors(eligible, st.selected)
	chosen := eligible[0]

	if st.open[chosen.Name] {
		// The chosen plugin is still resolving its own inputs: selecting it
		// again would close a dependency loop through this tag.
		return PluginDescriptor{}, &CyclicDependencyError{Tag: tag, Path: append(append([]string(nil), path...), tag)}
	}
	return chosen, nil
}

// topologicalSort orders nodes producers-first with a deterministic
// lexicographic tie-break, so equal inputs yield byte-identical chains.
func topologicalSort(nodes map[string]*ChainNode) []ChainNode {
	indegree := make(map[string]int, len(nodes))
	downstream := make(map[string][]string, len(nodes))
	for id, n := range nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, producer := range n.ResolvedInputs {
			downstream[producer] = append(downstream[producer], id)
			indegree[id]++
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]ChainNode, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, *nodes[id])

		var unlocked []string
		for _, next := range downstream[id] {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}
	return ordered
}

// mergeSorted merges two sorted string slices preserving order.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// collectEdges derives the explicit edge list from resolved inputs, in
// canonical (consumer order, tag ascending) order.
func collectEdges(nodes []ChainNode) []ChainEdge {
	var edges []ChainEdge
	for _, n := range nodes {
		for _, tag := range sortedKeys(n.ResolvedInputs) {
			edges = append(edges, ChainEdge{
				FromNode: n.ResolvedInputs[tag],
				ToNode:   n.ID,
				Tag:      tag,
			})
		}
	}
	return edges
}
