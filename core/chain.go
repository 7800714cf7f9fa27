package chainflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainNode is one plugin invocation within a chain, with its upstream
// inputs resolved. ResolvedInputs maps each required input tag to the ID of
// the node that produces it; tags listed in SeedInputs are supplied
// externally and have no producer.
type ChainNode struct {
	ID             string            `json:"id" yaml:"id"`
	PluginName     string            `json:"pluginName" yaml:"pluginName"`
	ResolvedInputs map[string]string `json:"resolvedInputs,omitempty" yaml:"resolvedInputs,omitempty"`
	SeedInputs     []string          `json:"seedInputs,omitempty" yaml:"seedInputs,omitempty"`
}

// ChainEdge connects a producer node's output tag to a consumer node's input
// tag. Both ends always carry the same tag.
type ChainEdge struct {
	FromNode string `json:"fromNode" yaml:"fromNode"`
	ToNode   string `json:"toNode" yaml:"toNode"`
	Tag      string `json:"tag" yaml:"tag"`
}

// Chain is an immutable, acyclic, type-checked graph of plugin invocations
// resolving a goal's output tag. Nodes are stored in canonical topological
// order (producers before consumers); that order is the execution order for
// sequential mode. Rebuilding produces a new Chain.
//
// Chains serialize to JSON and YAML for consumption by snapshot and
// presentation layers.
type Chain struct {
	ID         string      `json:"id" yaml:"id"`
	GoalTag    string      `json:"goalTag" yaml:"goalTag"`
	GoalNode   string      `json:"goalNode" yaml:"goalNode"`
	SeedInputs []string    `json:"seedInputs,omitempty" yaml:"seedInputs,omitempty"`
	Nodes      []ChainNode `json:"nodes" yaml:"nodes"`
	Edges      []ChainEdge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Node returns the node with the given ID.
func (c *Chain) Node(id string) (ChainNode, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return ChainNode{}, false
}

// TopologicalOrder returns the node IDs in canonical execution order.
func (c *Chain) TopologicalOrder() []string {
	order := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		order[i] = n.ID
	}
	return order
}

// Producers returns the IDs of the nodes the given node directly depends on.
func (c *Chain) Producers(nodeID string) []string {
	node, ok := c.Node(nodeID)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var producers []string
	for _, tag := range sortedKeys(node.ResolvedInputs) {
		p := node.ResolvedInputs[tag]
		if !seen[p] {
			seen[p] = true
			producers = append(producers, p)
		}
	}
	return producers
}

// Dependents returns the IDs of every node that transitively depends on the
// given node, in canonical order.
func (c *Chain) Dependents(nodeID string) []string {
	downstream := make(map[string][]string)
	for _, e := range c.Edges {
		downstream[e.FromNode] = append(downstream[e.FromNode], e.ToNode)
	}

	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		for _, next := range downstream[id] {
			if !visited[next] {
				visited[next] = true
				visit(next)
			}
		}
	}
	visit(nodeID)

	var result []string
	for _, n := range c.Nodes {
		if visited[n.ID] {
			result = append(result, n.ID)
		}
	}
	return result
}

// Validate re-checks the chain invariants: node order is a valid topological
// order, every edge matches a resolved input of its consumer, and the edge
// tag is produced by nobody but the recorded producer for that consumer.
func (c *Chain) Validate() error {
	position := make(map[string]int, len(c.Nodes))
	for i, n := range c.Nodes {
		if _, dup := position[n.ID]; dup {
			return fmt.Errorf("chain %s: duplicate node id %q", c.ID, n.ID)
		}
		position[n.ID] = i
	}

	for _, n := range c.Nodes {
		for tag, producer := range n.ResolvedInputs {
			pos, ok := position[producer]
			if !ok {
				return fmt.Errorf("chain %s: node %s input %q resolved by unknown node %q", c.ID, n.ID, tag, producer)
			}
			if pos >= position[n.ID] {
				return fmt.Errorf("chain %s: node %s runs before its producer %s", c.ID, n.ID, producer)
			}
		}
	}

	for _, e := range c.Edges {
		consumer, ok := c.Node(e.ToNode)
		if !ok {
			return fmt.Errorf("chain %s: edge targets unknown node %q", c.ID, e.ToNode)
		}
		if consumer.ResolvedInputs[e.Tag] != e.FromNode {
			return fmt.Errorf("chain %s: edge %s->%s tag %q does not match resolved input", c.ID, e.FromNode, e.ToNode, e.Tag)
		}
	}
	return nil
}

// ToYAML serializes the chain for snapshot/presentation consumers.
func (c *Chain) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ChainFromYAML deserializes a chain previously produced by ToYAML.
func ChainFromYAML(data []byte) (*Chain, error) {
	var c Chain
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse chain YAML: %w", err)
	}
	return &c, nil
}

// fingerprint derives the chain ID from its canonical content, so repeated
// builds over the same candidate set produce byte-identical chains.
func (c *Chain) fingerprint() string {
	var sb strings.Builder
	sb.WriteString(c.GoalTag)
	sb.WriteByte('\n')
	for _, n := range c.Nodes {
		sb.WriteString(n.ID)
		sb.WriteByte('=')
		sb.WriteString(n.PluginName)
		for _, tag := range sortedKeys(n.ResolvedInputs) {
			sb.WriteString(";" + tag + "<" + n.ResolvedInputs[tag])
		}
		for _, tag := range n.SeedInputs {
			sb.WriteString(";seed:" + tag)
		}
		sb.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:12]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
