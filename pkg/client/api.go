package client

import (
	"fmt"

	chainflow "chainflow/core"
	"chainflow/core/pubsub"
)

// BuildChainRequest is the payload for chain construction.
type BuildChainRequest struct {
	Goal       chainflow.Goal               `json:"goal"`
	Candidates []chainflow.PluginDescriptor `json:"candidates,omitempty"`
}

// StartRunRequest is the payload for starting a run.
type StartRunRequest struct {
	ChainID string                   `json:"chainId,omitempty"`
	Goal    *chainflow.Goal          `json:"goal,omitempty"`
	Mode    chainflow.ExecutionMode  `json:"mode,omitempty"`
	Options chainflow.ExecutorConfig `json:"options,omitempty"`
	Seeds   map[string]any           `json:"seeds,omitempty"`
}

// SuggestChainsRequest is the payload for the suggestions endpoint.
type SuggestChainsRequest struct {
	GoalText string `json:"goalText"`
	Limit    int    `json:"limit,omitempty"`
}

// RegisterPlugin registers a plugin descriptor on the server
func (c *Client) RegisterPlugin(desc chainflow.PluginDescriptor) error {
	return c.Request("POST", "/api/v1/plugins", desc, nil)
}

// ListPlugins retrieves all registered plugin descriptors
func (c *Client) ListPlugins() ([]chainflow.PluginDescriptor, error) {
	var result []chainflow.PluginDescriptor
	if err := c.Request("GET", "/api/v1/plugins", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPlugin retrieves one plugin descriptor by name
func (c *Client) GetPlugin(name string) (*chainflow.PluginDescriptor, error) {
	var result chainflow.PluginDescriptor
	if err := c.Request("GET", "/api/v1/plugins/"+name, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnregisterPlugin removes a plugin by name
func (c *Client) UnregisterPlugin(name string) error {
	return c.Request("DELETE", "/api/v1/plugins/"+name, nil, nil)
}

// BuildChain asks the server to construct a chain for the goal
func (c *Client) BuildChain(req BuildChainRequest) (*chainflow.Chain, error) {
	var result chainflow.Chain
	if err := c.Request("POST", "/api/v1/chains", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChains retrieves all built chains
func (c *Client) ListChains() ([]*chainflow.Chain, error) {
	var result []*chainflow.Chain
	if err := c.Request("GET", "/api/v1/chains", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetChain retrieves a built chain by ID
func (c *Client) GetChain(id string) (*chainflow.Chain, error) {
	var result chainflow.Chain
	if err := c.Request("GET", "/api/v1/chains/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartRun starts executing a chain and returns the initial run record
func (c *Client) StartRun(req StartRunRequest) (*chainflow.ChainRun, error) {
	var result chainflow.ChainRun
	if err := c.Request("POST", "/api/v1/runs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuns retrieves runs; activeOnly restricts to non-terminal runs
func (c *Client) ListRuns(activeOnly bool) ([]*chainflow.ChainRun, error) {
	path := "/api/v1/runs"
	if activeOnly {
		path += "?active=true"
	}
	var result []*chainflow.ChainRun
	if err := c.Request("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRun retrieves a run snapshot by ID
func (c *Client) GetRun(id string) (*chainflow.ChainRun, error) {
	var result chainflow.ChainRun
	if err := c.Request("GET", "/api/v1/runs/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelRun requests cooperative cancellation of a run
func (c *Client) CancelRun(id string) error {
	return c.Request("POST", fmt.Sprintf("/api/v1/runs/%s/cancel", id), nil, nil)
}

// CleanupRun cancels the run if active and removes its record
func (c *Client) CleanupRun(id string) error {
	return c.Request("DELETE", "/api/v1/runs/"+id, nil, nil)
}

// GetRunEvents retrieves the recent transition events for a run. Pass
// limit <= 0 for all retained events.
func (c *Client) GetRunEvents(id string, limit int) ([]*pubsub.Event, error) {
	path := fmt.Sprintf("/api/v1/runs/%s/events", id)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var result []*pubsub.Event
	if err := c.Request("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SuggestChains retrieves ranked candidate chains for a free-text goal
func (c *Client) SuggestChains(goalText string, limit int) ([]chainflow.ChainSuggestion, error) {
	var result []chainflow.ChainSuggestion
	req := SuggestChainsRequest{GoalText: goalText, Limit: limit}
	if err := c.Request("POST", "/api/v1/suggestions", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Health retrieves the server health summary
func (c *Client) Health() (map[string]any, error) {
	var result map[string]any
	if err := c.Request("GET", "/api/v1/health", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
