package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chainflow "chainflow/core"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// writeBuildError maps the typed construction errors onto HTTP statuses.
func writeBuildError(w http.ResponseWriter, err error) {
	var noViable *chainflow.NoViableChainError
	var cyclic *chainflow.CyclicDependencyError
	var ambiguous *chainflow.AmbiguousFanInError
	switch {
	case errors.As(err, &noViable):
		writeError(w, http.StatusUnprocessableEntity, "no_viable_chain", err)
	case errors.As(err, &cyclic):
		writeError(w, http.StatusUnprocessableEntity, "cyclic_dependency", err)
	case errors.As(err, &ambiguous):
		writeError(w, http.StatusUnprocessableEntity, "ambiguous_fan_in", err)
	default:
		writeError(w, http.StatusBadRequest, "invalid_goal", err)
	}
}

// Plugins

func (s *Server) registerPlugin(w http.ResponseWriter, r *http.Request) {
	var desc chainflow.PluginDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := s.registry.Register(desc); err != nil {
		if errors.Is(err, chainflow.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "duplicate_name", err)
		} else {
			writeError(w, http.StatusBadRequest, "invalid_descriptor", err)
		}
		return
	}
	InfoLog("[SERVER] Registered plugin %s via API", desc.Name)
	writeJSON(w, http.StatusCreated, desc)
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List(nil))
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	desc, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", errors.New("plugin not found: "+name))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) unregisterPlugin(w http.ResponseWriter, r *http.Request) {
	s.registry.Unregister(mux.Vars(r)["name"])
	w.WriteHeader(http.StatusNoContent)
}

// Chains

func (s *Server) buildChain(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	chain, err := s.builder.BuildChain(req.Goal, req.Candidates)
	if err != nil {
		writeBuildError(w, err)
		return
	}

	s.chainsMu.Lock()
	s.chains[chain.ID] = chain
	s.chainsMu.Unlock()

	InfoLog("[SERVER] Built chain %s for goal tag %q (%d nodes)", chain.ID, req.Goal.RequiredOutputTag, len(chain.Nodes))
	writeJSON(w, http.StatusCreated, chain)
}

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	s.chainsMu.RLock()
	chains := make([]*chainflow.Chain, 0, len(s.chains))
	for _, c := range s.chains {
		chains = append(chains, c)
	}
	s.chainsMu.RUnlock()
	writeJSON(w, http.StatusOK, chains)
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.chainsMu.RLock()
	chain, ok := s.chains[id]
	s.chainsMu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", errors.New("chain not found: "+id))
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) deleteChain(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.chainsMu.Lock()
	delete(s.chains, id)
	s.chainsMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// Runs

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	mode, err := normalizeMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err)
		return
	}

	var chain *chainflow.Chain
	switch {
	case req.ChainID != "":
		s.chainsMu.RLock()
		chain = s.chains[req.ChainID]
		s.chainsMu.RUnlock()
		if chain == nil {
			writeError(w, http.StatusNotFound, "not_found", errors.New("chain not found: "+req.ChainID))
			return
		}
	case req.Goal != nil:
		chain, err = s.builder.BuildChain(*req.Goal, nil)
		if err != nil {
			writeBuildError(w, err)
			return
		}
		s.chainsMu.Lock()
		s.chains[chain.ID] = chain
		s.chainsMu.Unlock()
	default:
		writeError(w, http.StatusBadRequest, "invalid_body", errors.New("either chainId or goal is required"))
		return
	}

	run := s.executor.StartChain(context.Background(), chain, mode, s.runOptions(req))
	if err := s.eventLog.Collect(run.RunID); err != nil {
		ErrorLog("[SERVER] Failed to collect events for run %s: %v", run.RunID, err)
	}

	writeJSON(w, http.StatusAccepted, run.Snapshot())
}

// runOptions layers per-request overrides over the configured executor
// defaults.
func (s *Server) runOptions(req RunRequest) chainflow.ExecOptions {
	cfg := s.execConfig
	if req.Options.Workers > 0 {
		cfg.Workers = req.Options.Workers
	}
	if req.Options.AdaptiveThreshold > 0 {
		cfg.AdaptiveThreshold = req.Options.AdaptiveThreshold
	}
	if req.Options.NodeTimeoutSeconds > 0 {
		cfg.NodeTimeoutSeconds = req.Options.NodeTimeoutSeconds
	}
	if req.Options.FailFast {
		cfg.FailFast = true
	}
	opts := cfg.Options()
	opts.SeedValues = req.Seeds
	return opts
}

func normalizeMode(mode chainflow.ExecutionMode) (chainflow.ExecutionMode, error) {
	switch mode {
	case "":
		return chainflow.ModeSequential, nil
	case chainflow.ModeSequential, chainflow.ModeParallel, chainflow.ModeAdaptive:
		return mode, nil
	}
	return "", errors.New("unknown execution mode: " + string(mode))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	var runs []*chainflow.ChainRun
	if r.URL.Query().Get("active") == "true" {
		runs = s.store.ListActive()
	} else {
		runs = s.store.ListAll()
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	InfoLog("[SERVER] Cancellation requested for run %s", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": id, "message": "cancellation requested"})
}

func (s *Server) cleanupRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.store.Cleanup(id)
	s.eventLog.Drop(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	events := s.eventLog.Recent(id, limit)
	writeJSON(w, http.StatusOK, events)
}

// Suggestions

func (s *Server) suggestChains(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.GoalText == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", errors.New("goalText is required"))
		return
	}

	engine := chainflow.NewSuggestionEngine(s.registry)
	if req.Limit > 0 {
		engine.MaxSuggestions = req.Limit
	}
	suggestions := engine.SuggestChains(req.GoalText, s.scorer)
	if suggestions == nil {
		suggestions = []chainflow.ChainSuggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// Health Check

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":     "healthy",
		"plugins":    s.registry.Len(),
		"activeRuns": len(s.store.ListActive()),
		"version":    "1.0.0",
		"server":     "chainflow",
	}
	writeJSON(w, http.StatusOK, health)
}
