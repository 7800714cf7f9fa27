package chainflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a whole chain run.
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunSucceeded      RunStatus = "succeeded"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunPartialFailure, RunFailed, RunCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a single node within a run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeState records the outcome of one node execution.
type NodeState struct {
	Status     NodeStatus     `json:"status" yaml:"status"`
	Output     map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	SkipReason string         `json:"skipReason,omitempty" yaml:"skipReason,omitempty"`
	StartedAt  time.Time      `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	EndedAt    time.Time      `json:"endedAt,omitzero" yaml:"endedAt,omitempty"`
}

// ChainRun is the mutable execution record of one chain. It is created by
// the executor, mutated node-by-node exclusively by that executor instance,
// and stored in the StateStore for introspection. Concurrent readers must go
// through Snapshot.
type ChainRun struct {
	RunID     string                `json:"runId" yaml:"runId"`
	ChainID   string                `json:"chainId" yaml:"chainId"`
	Chain     *Chain                `json:"chain,omitempty" yaml:"chain,omitempty"`
	Mode      ExecutionMode         `json:"mode" yaml:"mode"`
	Status    RunStatus             `json:"status" yaml:"status"`
	NodeState map[string]*NodeState `json:"nodeStates" yaml:"nodeStates"`
	StartedAt time.Time             `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	EndedAt   time.Time             `json:"endedAt,omitzero" yaml:"endedAt,omitempty"`

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// newChainRun creates a pending run for the chain with every node pending.
func newChainRun(chain *Chain, mode ExecutionMode) *ChainRun {
	run := &ChainRun{
		RunID:     uuid.New().String(),
		ChainID:   chain.ID,
		Chain:     chain,
		Mode:      mode,
		Status:    RunPending,
		NodeState: make(map[string]*NodeState, len(chain.Nodes)),
		done:      make(chan struct{}),
	}
	for _, n := range chain.Nodes {
		run.NodeState[n.ID] = &NodeState{Status: NodePending}
	}
	return run
}

// Cancel requests cooperative cancellation: no node transitions to running
// afterward, while already-running nodes finish and have their results
// recorded. Safe to call multiple times and after completion.
func (r *ChainRun) Cancel() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the run reaches a terminal status. Snapshots taken
// before Wait returns may observe intermediate states.
func (r *ChainRun) Wait() {
	if r.done != nil {
		<-r.done
	}
}

// Snapshot returns a deep copy safe for concurrent readers while the
// executor is still mutating the run.
func (r *ChainRun) Snapshot() *ChainRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &ChainRun{
		RunID:     r.RunID,
		ChainID:   r.ChainID,
		Chain:     r.Chain, // immutable after build, safe to share
		Mode:      r.Mode,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		NodeState: make(map[string]*NodeState, len(r.NodeState)),
	}
	for id, ns := range r.NodeState {
		copied := *ns
		if ns.Output != nil {
			copied.Output = make(map[string]any, len(ns.Output))
			for k, v := range ns.Output {
				copied.Output[k] = v
			}
		}
		snap.NodeState[id] = &copied
	}
	return snap
}

// GetStatus returns the current run status.
func (r *ChainRun) GetStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// NodeStatusOf returns the current status of one node.
func (r *ChainRun) NodeStatusOf(nodeID string) NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ns, ok := r.NodeState[nodeID]; ok {
		return ns.Status
	}
	return ""
}

func (r *ChainRun) setStatus(status RunStatus) {
	r.mu.Lock()
	r.Status = status
	r.mu.Unlock()
}

// markNodeRunning transitions pending to running. It refuses any other
// transition (e.g. a node skipped by a fail-fast abort between dispatch and
// start) and reports whether the node actually started.
func (r *ChainRun) markNodeRunning(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.NodeState[nodeID]
	if ns.Status != NodePending {
		return false
	}
	ns.Status = NodeRunning
	ns.StartedAt = time.Now()
	return true
}

func (r *ChainRun) markNodeSucceeded(nodeID string, output map[string]any) {
	r.mu.Lock()
	ns := r.NodeState[nodeID]
	ns.Status = NodeSucceeded
	ns.Output = output
	ns.EndedAt = time.Now()
	r.mu.Unlock()
}

func (r *ChainRun) markNodeFailed(nodeID string, err error) {
	r.mu.Lock()
	ns := r.NodeState[nodeID]
	ns.Status = NodeFailed
	ns.Error = err.Error()
	ns.EndedAt = time.Now()
	r.mu.Unlock()
}

func (r *ChainRun) markNodeSkipped(nodeID, reason string) {
	r.mu.Lock()
	ns := r.NodeState[nodeID]
	if ns.Status == NodePending {
		ns.Status = NodeSkipped
		ns.SkipReason = reason
		ns.EndedAt = time.Now()
	}
	r.mu.Unlock()
}
