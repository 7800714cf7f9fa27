package chainflow

import (
	"context"
	"fmt"
	"time"

	"chainflow/core/pubsub"
)

// ExecutionMode selects the scheduling policy for a chain run.
type ExecutionMode string

const (
	// ModeSequential executes nodes strictly in topological order.
	ModeSequential ExecutionMode = "sequential"
	// ModeParallel dispatches the whole ready-set concurrently on a bounded
	// worker pool, recomputing the ready-set as nodes complete.
	ModeParallel ExecutionMode = "parallel"
	// ModeAdaptive starts sequential and promotes a ready-set wave to
	// parallel whenever it holds at least AdaptiveThreshold independent
	// nodes.
	ModeAdaptive ExecutionMode = "adaptive"
)

const (
	// DefaultWorkerPoolSize bounds concurrent node executions in parallel
	// and adaptive waves.
	DefaultWorkerPoolSize = 4

	// DefaultAdaptiveThreshold is the ready-set size at which adaptive mode
	// promotes a wave to parallel execution.
	DefaultAdaptiveThreshold = 2

	// DefaultNodeTimeout bounds a single plugin invocation.
	DefaultNodeTimeout = 30 * time.Second
)

// ExecOptions tunes one chain run.
type ExecOptions struct {
	// FailFast aborts all remaining nodes after the first failure instead of
	// continuing independent branches.
	FailFast bool

	// NodeTimeout bounds each plugin invocation. The timeout is independent
	// of the run-level cancellation token.
	NodeTimeout time.Duration

	// Workers is the worker pool size for parallel waves.
	Workers int

	// AdaptiveThreshold overrides DefaultAdaptiveThreshold for adaptive mode.
	AdaptiveThreshold int

	// SeedValues supplies the values for the goal's seed input tags.
	SeedValues map[string]any
}

func (o ExecOptions) withDefaults() ExecOptions {
	if o.NodeTimeout <= 0 {
		o.NodeTimeout = DefaultNodeTimeout
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkerPoolSize
	}
	if o.AdaptiveThreshold <= 0 {
		o.AdaptiveThreshold = DefaultAdaptiveThreshold
	}
	return o
}

// ChainExecutor drives plugin invocation over a built chain, tracks
// per-node state and aggregates a ChainRun. Plugin faults never escape
// RunChain; they are recorded in node states. The executor is the exclusive
// mutator of the runs it creates.
type ChainExecutor struct {
	registry *PluginRegistry
	store    *StateStore
	bus      pubsub.Bus
}

// NewChainExecutor creates an executor. store and bus may be nil for
// callers that neither persist runs nor consume transition events.
func NewChainExecutor(registry *PluginRegistry, store *StateStore, bus pubsub.Bus) *ChainExecutor {
	return &ChainExecutor{registry: registry, store: store, bus: bus}
}

// RunTopic returns the event bus topic carrying a run's transitions.
func RunTopic(runID string) string {
	return "run:" + runID
}

// nodeResult reports one finished (or not-started) node back to the
// dispatch loop.
type nodeResult struct {
	nodeID  string
	err     error
	started bool
}

// RunChain executes the chain under the given mode and returns the
// completed ChainRun. Cancelling ctx (or the run's own Cancel) stops new
// dispatches; running nodes finish and their results are recorded.
func (ex *ChainExecutor) RunChain(ctx context.Context, chain *Chain, mode ExecutionMode, opts ExecOptions) *ChainRun {
	run := ex.StartChain(ctx, chain, mode, opts)
	run.Wait()
	return run
}

// StartChain begins executing the chain in the background and returns the
// run record immediately. Callers observe progress through StateStore
// snapshots, bus events, or run.Wait.
func (ex *ChainExecutor) StartChain(ctx context.Context, chain *Chain, mode ExecutionMode, opts ExecOptions) *ChainRun {
	opts = opts.withDefaults()

	run := newChainRun(chain, mode)
	runCtx, cancel := context.WithCancel(ctx)

	run.mu.Lock()
	run.cancel = cancel
	run.Status = RunRunning
	run.StartedAt = time.Now()
	run.mu.Unlock()

	if ex.store != nil {
		ex.store.Put(run)
	}
	ex.publish(run.RunID, "", string(RunRunning), "", false)

	InfoLog("[EXECUTOR] Run %s started (chain=%s mode=%s nodes=%d)",
		run.RunID, chain.ID, mode, len(chain.Nodes))

	go func() {
		defer cancel()
		defer close(run.done)

		switch mode {
		case ModeParallel:
			ex.runParallel(runCtx, run, opts)
		case ModeAdaptive:
			ex.runAdaptive(runCtx, run, opts)
		default:
			ex.runSequential(runCtx, run, opts)
		}
		ex.finalize(runCtx, run)
	}()
	return run
}

// runSequential walks the canonical topological order one node at a time.
func (ex *ChainExecutor) runSequential(ctx context.Context, run *ChainRun, opts ExecOptions) {
	for _, node := range run.Chain.Nodes {
		if ctx.Err() != nil {
			return
		}
		if run.NodeStatusOf(node.ID) != NodePending {
			continue
		}
		if !ex.depsSatisfied(run, node) {
			// Upstream failure propagation already skipped this node's
			// ancestors; keep it pending only if a dependency is still
			// outstanding, which cannot happen in topological order.
			continue
		}
		res := ex.executeNode(ctx, run, node, opts)
		if res.err != nil && res.started {
			if ex.propagateFailure(run, node.ID, opts) {
				return
			}
		}
	}
}

// runParallel keeps the ready-set dispatched on a bounded worker pool,
// recomputing it whenever a node completes.
func (ex *ChainExecutor) runParallel(ctx context.Context, run *ChainRun, opts ExecOptions) {
	sem := make(chan struct{}, opts.Workers)
	results := make(chan nodeResult)
	dispatched := make(map[string]bool, len(run.Chain.Nodes))
	aborted := false
	inFlight := 0

	dispatch := func() {
		if aborted || ctx.Err() != nil {
			return
		}
		for _, node := range ex.readyNodes(run, dispatched) {
			dispatched[node.ID] = true
			inFlight++
			go func(n ChainNode) {
				sem <- struct{}{}
				defer func() { <-sem }()
				results <- ex.executeNode(ctx, run, n, opts)
			}(node)
		}
	}

	dispatch()
	for inFlight > 0 {
		res := <-results
		inFlight--
		if !res.started {
			// Cancellation fired between dispatch and start; the node stays
			// pending and nothing new is dispatched.
			continue
		}
		if res.err != nil {
			if ex.propagateFailure(run, res.nodeID, opts) {
				aborted = true
			}
		}
		dispatch()
	}
}

// runAdaptive steps sequentially until the ready-set reaches the promotion
// threshold, then executes that whole wave in parallel and re-evaluates.
func (ex *ChainExecutor) runAdaptive(ctx context.Context, run *ChainRun, opts ExecOptions) {
	dispatched := make(map[string]bool, len(run.Chain.Nodes))
	for ctx.Err() == nil {
		ready := ex.readyNodes(run, dispatched)
		if len(ready) == 0 {
			return
		}
		if len(ready) >= opts.AdaptiveThreshold {
			if ex.runWave(ctx, run, ready, dispatched, opts) {
				return
			}
			continue
		}
		node := ready[0]
		dispatched[node.ID] = true
		res := ex.executeNode(ctx, run, node, opts)
		if !res.started {
			return
		}
		if res.err != nil {
			if ex.propagateFailure(run, node.ID, opts) {
				return
			}
		}
	}
}

// runWave executes one promoted ready-set concurrently and waits for the
// whole wave. Returns true when the run should stop (fail-fast abort).
func (ex *ChainExecutor) runWave(ctx context.Context, run *ChainRun, wave []ChainNode, dispatched map[string]bool, opts ExecOptions) bool {
	sem := make(chan struct{}, opts.Workers)
	results := make(chan nodeResult)

	for _, node := range wave {
		dispatched[node.ID] = true
		go func(n ChainNode) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- ex.executeNode(ctx, run, n, opts)
		}(node)
	}

	stop := false
	for range wave {
		res := <-results
		if !res.started {
			stop = true
			continue
		}
		if res.err != nil {
			if ex.propagateFailure(run, res.nodeID, opts) {
				stop = true
			}
		}
	}
	return stop
}

// readyNodes returns the undispatched pending nodes whose dependencies are
// all terminal-succeeded, in canonical order.
func (ex *ChainExecutor) readyNodes(run *ChainRun, dispatched map[string]bool) []ChainNode {
	var ready []ChainNode
	for _, node := range run.Chain.Nodes {
		if dispatched[node.ID] {
			continue
		}
		if run.NodeStatusOf(node.ID) != NodePending {
			continue
		}
		if ex.depsSatisfied(run, node) {
			ready = append(ready, node)
		}
	}
	return ready
}

func (ex *ChainExecutor) depsSatisfied(run *ChainRun, node ChainNode) bool {
	for _, producer := range run.Chain.Producers(node.ID) {
		if run.NodeStatusOf(producer) != NodeSucceeded {
			return false
		}
	}
	return true
}

// executeNode invokes one plugin under the per-node timeout, recording the
// outcome. A cancellation observed before the node starts leaves it pending
// (started=false); the executor never starts a node after the token fires.
func (ex *ChainExecutor) executeNode(ctx context.Context, run *ChainRun, node ChainNode, opts ExecOptions) nodeResult {
	if ctx.Err() != nil {
		return nodeResult{nodeID: node.ID, started: false}
	}

	if !run.markNodeRunning(node.ID) {
		return nodeResult{nodeID: node.ID, started: false}
	}
	ex.publish(run.RunID, node.ID, string(NodeRunning), "", false)

	inputs, err := ex.gatherInputs(run, node, opts)
	if err == nil {
		var output map[string]any
		output, err = ex.invokePlugin(node, inputs, opts.NodeTimeout)
		if err == nil {
			run.markNodeSucceeded(node.ID, output)
			ex.publish(run.RunID, node.ID, string(NodeSucceeded), "", false)
			DebugLog("[EXECUTOR] Node %s succeeded (run=%s)", node.ID, run.RunID)
			return nodeResult{nodeID: node.ID, started: true}
		}
	}

	execErr := &PluginExecutionError{PluginName: node.PluginName, NodeID: node.ID, Err: err}
	run.markNodeFailed(node.ID, execErr)
	ex.publish(run.RunID, node.ID, string(NodeFailed), execErr.Error(), false)
	ErrorLog("[EXECUTOR] Node %s failed (run=%s): %v", node.ID, run.RunID, err)
	return nodeResult{nodeID: node.ID, err: execErr, started: true}
}

// gatherInputs assembles the input value map from producer outputs and the
// run's seed values.
func (ex *ChainExecutor) gatherInputs(run *ChainRun, node ChainNode, opts ExecOptions) (map[string]any, error) {
	inputs := make(map[string]any, len(node.ResolvedInputs)+len(node.SeedInputs))

	run.mu.RLock()
	for tag, producer := range node.ResolvedInputs {
		state := run.NodeState[producer]
		value, ok := state.Output[tag]
		if !ok {
			run.mu.RUnlock()
			return nil, fmt.Errorf("producer %s did not emit output tag %q", producer, tag)
		}
		inputs[tag] = value
	}
	run.mu.RUnlock()

	for _, tag := range node.SeedInputs {
		inputs[tag] = opts.SeedValues[tag]
	}
	return inputs, nil
}

// invokePlugin runs the plugin in its own goroutine so a hung plugin cannot
// stall the dispatch loop. The timeout context is deliberately detached from
// the run token: cancellation is cooperative and running nodes finish.
func (ex *ChainExecutor) invokePlugin(node ChainNode, inputs map[string]any, timeout time.Duration) (map[string]any, error) {
	impl := ex.registry.Implementation(node.PluginName)
	if impl == nil {
		return nil, &PluginError{Code: "no_implementation", Message: fmt.Sprintf("plugin %q has no registered implementation", node.PluginName)}
	}

	nodeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type callResult struct {
		output map[string]any
		err    error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- callResult{err: fmt.Errorf("plugin panicked: %v", rec)}
			}
		}()
		output, err := impl.Execute(nodeCtx, inputs)
		resultCh <- callResult{output: output, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.output, res.err
	case <-nodeCtx.Done():
		return nil, fmt.Errorf("node timed out after %v", timeout)
	}
}

// propagateFailure skips the nodes a failure makes unreachable. Returns true
// when fail-fast aborted the whole run.
func (ex *ChainExecutor) propagateFailure(run *ChainRun, failedNodeID string, opts ExecOptions) bool {
	if opts.FailFast {
		for _, node := range run.Chain.Nodes {
			if run.NodeStatusOf(node.ID) == NodePending {
				run.markNodeSkipped(node.ID, ErrChainAborted.Error())
				ex.publish(run.RunID, node.ID, string(NodeSkipped), ErrChainAborted.Error(), false)
			}
		}
		return true
	}

	reason := fmt.Sprintf("upstream node %s failed", failedNodeID)
	for _, dep := range run.Chain.Dependents(failedNodeID) {
		if run.NodeStatusOf(dep) == NodePending {
			run.markNodeSkipped(dep, reason)
			ex.publish(run.RunID, dep, string(NodeSkipped), reason, false)
		}
	}
	return false
}

// finalize derives the run's terminal status from node outcomes.
func (ex *ChainExecutor) finalize(runCtx context.Context, run *ChainRun) {
	run.mu.Lock()
	var succeeded, failed, skipped, pending int
	for _, ns := range run.NodeState {
		switch ns.Status {
		case NodeSucceeded:
			succeeded++
		case NodeFailed:
			failed++
		case NodeSkipped:
			skipped++
		default:
			pending++
		}
	}

	switch {
	case runCtx.Err() != nil && pending > 0:
		run.Status = RunCancelled
	case pending == 0 && failed == 0 && skipped == 0:
		run.Status = RunSucceeded
	case succeeded > 0 && (failed > 0 || skipped > 0):
		run.Status = RunPartialFailure
	default:
		run.Status = RunFailed
	}
	run.EndedAt = time.Now()
	status := run.Status
	run.mu.Unlock()

	ex.publish(run.RunID, "", string(status), "", true)
	if ex.store != nil {
		ex.store.persist()
	}
	InfoLog("[EXECUTOR] Run %s finished: %s (ok=%d failed=%d skipped=%d pending=%d)",
		run.RunID, status, succeeded, failed, skipped, pending)
}

func (ex *ChainExecutor) publish(runID, nodeID, status, errMsg string, done bool) {
	if ex.bus == nil {
		return
	}
	event := &pubsub.Event{
		RunID:     runID,
		NodeID:    nodeID,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now(),
		Done:      done,
	}
	if err := ex.bus.Publish(RunTopic(runID), event); err != nil {
		ErrorLog("[EXECUTOR] Failed to publish event for run %s: %v", runID, err)
	}
}
