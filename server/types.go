package server

import (
	chainflow "chainflow/core"
)

// Config holds server configuration.
type Config struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Debug      bool   `json:"debug" yaml:"debug"`
	ConfigPath string `json:"configPath,omitempty" yaml:"configPath,omitempty"`
	MemoryPath string `json:"memoryPath,omitempty" yaml:"memoryPath,omitempty"`
}

// ErrorResponse is the JSON error payload for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// BuildRequest asks the builder for a chain. Candidates restricts the
// descriptor pool; when omitted the full registry is used.
type BuildRequest struct {
	Goal       chainflow.Goal               `json:"goal"`
	Candidates []chainflow.PluginDescriptor `json:"candidates,omitempty"`
}

// RunRequest starts a chain run. Either ChainID references a previously
// built chain, or Goal builds one inline.
type RunRequest struct {
	ChainID string                   `json:"chainId,omitempty"`
	Goal    *chainflow.Goal          `json:"goal,omitempty"`
	Mode    chainflow.ExecutionMode  `json:"mode,omitempty"`
	Options chainflow.ExecutorConfig `json:"options,omitempty"`
	Seeds   map[string]any           `json:"seeds,omitempty"`
}

// SuggestRequest asks for ranked candidate chains for a free-text goal.
type SuggestRequest struct {
	GoalText string `json:"goalText"`
	Limit    int    `json:"limit,omitempty"`
}
