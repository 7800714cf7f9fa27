package chainflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry and store lookups.
var (
	// ErrDuplicateName is returned when a plugin name is already registered.
	ErrDuplicateName = errors.New("plugin name already registered")

	// ErrRunNotFound is returned when a run ID is not present in the state store.
	ErrRunNotFound = errors.New("run not found")

	// ErrChainAborted is recorded as the skip reason when fail-fast aborts
	// the remaining nodes of a run.
	ErrChainAborted = errors.New("chain aborted")
)

// NoViableChainError indicates that no candidate plugin produces a tag that
// the chain under construction requires.
type NoViableChainError struct {
	Tag string
}

func (e *NoViableChainError) Error() string {
	return fmt.Sprintf("no viable chain: no producer for tag %q", e.Tag)
}

// CyclicDependencyError indicates that a tag reappeared on its own resolution
// path during backward chain construction.
type CyclicDependencyError struct {
	Tag  string
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: tag %q reappears on resolution path %v", e.Tag, e.Path)
}

// AmbiguousFanInError indicates that two producers both claim to be the
// unique resolver for a consumer's input after tie-breaking. This is a
// builder contract violation, not a recoverable condition: the candidate set
// contained indistinguishable descriptors (duplicate names).
type AmbiguousFanInError struct {
	Tag       string
	Producers []string
}

func (e *AmbiguousFanInError) Error() string {
	return fmt.Sprintf("ambiguous fan-in for tag %q: producers %v are indistinguishable after tie-break", e.Tag, e.Producers)
}

// PluginError is the failure contract implemented by plugins. Executors wrap
// any other error returned from a plugin into a PluginError with code
// "execution_error".
type PluginError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin error [%s]: %s", e.Code, e.Message)
}

// PluginExecutionError wraps a plugin fault (error, panic, or timeout)
// observed while executing a single chain node.
type PluginExecutionError struct {
	PluginName string
	NodeID     string
	Err        error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin %q failed at node %s: %v", e.PluginName, e.NodeID, e.Err)
}

func (e *PluginExecutionError) Unwrap() error {
	return e.Err
}
