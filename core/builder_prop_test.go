package chainflow

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var propTags = []string{"alpha", "beta", "gamma", "delta", "epsilon"}

// drawDescriptors generates a small random candidate pool over a fixed tag
// vocabulary. Names are unique; input and output sets may overlap freely, so
// cyclic and unsatisfiable pools are generated too.
func drawDescriptors(t *rapid.T) []PluginDescriptor {
	count := rapid.IntRange(1, 6).Draw(t, "count")
	descs := make([]PluginDescriptor, 0, count)
	for i := 0; i < count; i++ {
		outputs := rapid.SliceOfNDistinct(rapid.SampledFrom(propTags), 1, 3, rapid.ID[string]).Draw(t, fmt.Sprintf("outputs%d", i))
		inputs := rapid.SliceOfNDistinct(rapid.SampledFrom(propTags), 0, 3, rapid.ID[string]).Draw(t, fmt.Sprintf("inputs%d", i))
		descs = append(descs, PluginDescriptor{
			Name:          fmt.Sprintf("plugin-%d", i),
			InputTypes:    inputs,
			OutputTypes:   outputs,
			AutoChain:     true,
			ChainPriority: rapid.SampledFrom([]float64{0, 0.25, 0.5, 0.75, 1}).Draw(t, fmt.Sprintf("priority%d", i)),
		})
	}
	return descs
}

func TestBuildChainPropAcyclicOrTypedError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		descs := drawDescriptors(t)
		goalTag := rapid.SampledFrom(propTags).Draw(t, "goal")

		builder := NewChainBuilder(NewPluginRegistry())
		chain, err := builder.BuildChain(Goal{RequiredOutputTag: goalTag}, descs)

		if err != nil {
			var noViable *NoViableChainError
			var cyclic *CyclicDependencyError
			var ambiguous *AmbiguousFanInError
			if !errors.As(err, &noViable) && !errors.As(err, &cyclic) && !errors.As(err, &ambiguous) {
				t.Fatalf("untyped build error: %v", err)
			}
			return
		}

		// Success: the chain must be valid, acyclic by construction, and
		// topologically ordered.
		if err := chain.Validate(); err != nil {
			t.Fatalf("built chain failed validation: %v", err)
		}
		if chain.GoalTag != goalTag {
			t.Fatalf("goal tag mismatch: %s vs %s", chain.GoalTag, goalTag)
		}

		// Every edge is type-safe: the producer outputs the tag and the
		// consumer requires it.
		byName := make(map[string]PluginDescriptor, len(descs))
		for _, d := range descs {
			byName[d.Name] = d
		}
		for _, e := range chain.Edges {
			from, _ := chain.Node(e.FromNode)
			to, _ := chain.Node(e.ToNode)
			if !byName[from.PluginName].Produces(e.Tag) {
				t.Fatalf("edge tag %q not produced by %s", e.Tag, from.PluginName)
			}
			if !byName[to.PluginName].Consumes(e.Tag) {
				t.Fatalf("edge tag %q not consumed by %s", e.Tag, to.PluginName)
			}
		}

		// Every non-seed input of every node has exactly one resolved producer.
		for _, n := range chain.Nodes {
			desc := byName[n.PluginName]
			for _, input := range desc.InputTypes {
				seeded := false
				for _, s := range n.SeedInputs {
					if s == input {
						seeded = true
					}
				}
				if seeded {
					continue
				}
				if _, ok := n.ResolvedInputs[input]; !ok {
					t.Fatalf("node %s input %q neither seeded nor resolved", n.ID, input)
				}
			}
		}
	})
}

func TestBuildChainPropDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		descs := drawDescriptors(t)
		goalTag := rapid.SampledFrom(propTags).Draw(t, "goal")

		builder := NewChainBuilder(NewPluginRegistry())
		first, err1 := builder.BuildChain(Goal{RequiredOutputTag: goalTag}, descs)
		second, err2 := builder.BuildChain(Goal{RequiredOutputTag: goalTag}, descs)

		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("identical builds disagree: %v vs %v", err1, err2)
		}
		if err1 != nil {
			return
		}
		if first.ID != second.ID {
			t.Fatalf("identical builds produced different IDs: %s vs %s", first.ID, second.ID)
		}
		firstOrder := first.TopologicalOrder()
		secondOrder := second.TopologicalOrder()
		for i := range firstOrder {
			if firstOrder[i] != secondOrder[i] {
				t.Fatalf("identical builds produced different node orders")
			}
		}
	})
}

func TestBuildChainPropSeedsNeverResolved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		descs := drawDescriptors(t)
		goalTag := rapid.SampledFrom(propTags).Draw(t, "goal")
		seeds := rapid.SliceOfNDistinct(rapid.SampledFrom(propTags), 0, 2, rapid.ID[string]).Draw(t, "seeds")

		for _, s := range seeds {
			if s == goalTag {
				return
			}
		}

		builder := NewChainBuilder(NewPluginRegistry())
		chain, err := builder.BuildChain(Goal{RequiredOutputTag: goalTag, SeedInputs: seeds}, descs)
		if err != nil {
			return
		}

		seedSet := make(map[string]bool, len(seeds))
		for _, s := range seeds {
			seedSet[s] = true
		}
		for _, n := range chain.Nodes {
			for tag := range n.ResolvedInputs {
				if seedSet[tag] {
					t.Fatalf("seeded tag %q was resolved to a producer at node %s", tag, n.ID)
				}
			}
		}
		for _, e := range chain.Edges {
			if seedSet[e.Tag] {
				t.Fatalf("seeded tag %q appears as an edge", e.Tag)
			}
		}
	})
}
