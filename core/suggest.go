package chainflow

import (
	"fmt"
	"sort"
	"strings"
)

// RelevanceScorer rates how relevant a plugin is to a free-text goal.
// Scores are in [0, 1]. The engine performs no natural-language
// understanding of its own; semantic scorers are injected by the host.
type RelevanceScorer interface {
	Score(goalText string, desc PluginDescriptor) float64
}

// TagOverlapScorer is the default scorer: the fraction of goal-text tokens
// that appear in the plugin's name or tags. Deterministic and dependency
// free; hosts with an NLP layer inject their own scorer instead.
type TagOverlapScorer struct{}

func (TagOverlapScorer) Score(goalText string, desc PluginDescriptor) float64 {
	tokens := tokenize(goalText)
	if len(tokens) == 0 {
		return 0
	}

	vocabulary := make(map[string]bool)
	for _, part := range tokenize(desc.Name) {
		vocabulary[part] = true
	}
	for _, tag := range desc.OutputTypes {
		for _, part := range tokenize(tag) {
			vocabulary[part] = true
		}
	}
	for _, tag := range desc.InputTypes {
		for _, part := range tokenize(tag) {
			vocabulary[part] = true
		}
	}

	matched := 0
	for _, tok := range tokens {
		if vocabulary[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// ChainSuggestion is one ranked candidate chain. The chain is a dry build:
// validated but never executed. Rationale lists the scoring reasons, not
// generated text.
type ChainSuggestion struct {
	Chain      *Chain   `json:"chain" yaml:"chain"`
	GoalTag    string   `json:"goalTag" yaml:"goalTag"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Rationale  []string `json:"rationale" yaml:"rationale"`
}

// SuggestionEngine ranks candidate chains for a free-text goal without
// executing anything. It shares the registry with the builder and never
// touches the executor.
type SuggestionEngine struct {
	registry *PluginRegistry
	builder  *ChainBuilder

	// MaxSuggestions caps the returned list.
	MaxSuggestions int
}

// DefaultMaxSuggestions caps suggestion lists unless overridden.
const DefaultMaxSuggestions = 5

// NewSuggestionEngine creates an engine over the registry.
func NewSuggestionEngine(registry *PluginRegistry) *SuggestionEngine {
	return &SuggestionEngine{
		registry:       registry,
		builder:        NewChainBuilder(registry),
		MaxSuggestions: DefaultMaxSuggestions,
	}
}

// SuggestChains scores every registered plugin against the goal text, forms
// candidate goal specifications from the top-scoring plugins' output tags,
// dry-builds a chain for each, and returns sketches ranked by aggregate
// confidence (mean of node scores), ties broken by shorter chain, then goal
// tag.
//
// For each top-scoring plugin two candidate goals are tried: the plugin
// alone with its inputs treated as externally supplied, and the fully
// resolved chain with no seeds. The seeded sketch reflects "what I could
// run for you right now if you hand me the inputs"; the full chain reflects
// end-to-end resolution.
func (se *SuggestionEngine) SuggestChains(goalText string, scorer RelevanceScorer) []ChainSuggestion {
	if scorer == nil {
		scorer = TagOverlapScorer{}
	}

	descs := se.registry.List(nil)
	scores := make(map[string]float64, len(descs))
	for _, d := range descs {
		scores[d.Name] = clampScore(scorer.Score(goalText, d))
	}

	var suggestions []ChainSuggestion
	seenChains := make(map[string]bool)

	for _, d := range descs {
		if scores[d.Name] <= 0 {
			continue
		}
		for _, tag := range d.OutputTypes {
			goals := []Goal{
				{RequiredOutputTag: tag, SeedInputs: append([]string(nil), d.InputTypes...)},
				{RequiredOutputTag: tag},
			}
			for _, goal := range goals {
				chain, err := se.builder.BuildChain(goal, nil)
				if err != nil {
					DebugLog("[SUGGEST] Dry build for tag %q failed: %v", tag, err)
					continue
				}
				if seenChains[chain.ID] {
					continue
				}
				seenChains[chain.ID] = true
				suggestions = append(suggestions, se.score(chain, goalText, scores))
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		if len(suggestions[i].Chain.Nodes) != len(suggestions[j].Chain.Nodes) {
			return len(suggestions[i].Chain.Nodes) < len(suggestions[j].Chain.Nodes)
		}
		return suggestions[i].GoalTag < suggestions[j].GoalTag
	})

	if se.MaxSuggestions > 0 && len(suggestions) > se.MaxSuggestions {
		suggestions = suggestions[:se.MaxSuggestions]
	}
	return suggestions
}

// score aggregates node scores into a confidence and collects the rationale.
func (se *SuggestionEngine) score(chain *Chain, goalText string, scores map[string]float64) ChainSuggestion {
	var total float64
	var rationale []string
	for _, node := range chain.Nodes {
		s := scores[node.PluginName]
		total += s
		rationale = append(rationale, fmt.Sprintf("plugin %s scored %.2f for %q", node.PluginName, s, goalText))
	}

	confidence := 0.0
	if len(chain.Nodes) > 0 {
		confidence = total / float64(len(chain.Nodes))
	}
	rationale = append(rationale, fmt.Sprintf("resolves goal tag %q with %d node(s)", chain.GoalTag, len(chain.Nodes)))

	return ChainSuggestion{
		Chain:      chain,
		GoalTag:    chain.GoalTag,
		Confidence: confidence,
		Rationale:  rationale,
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
