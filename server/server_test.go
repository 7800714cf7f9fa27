package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chainflow "chainflow/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s := New(Config{Host: "localhost", Port: 0})

	registry := s.Registry()
	register := func(desc chainflow.PluginDescriptor, fn func(ctx context.Context, inputs map[string]any) (map[string]any, error)) {
		impl := chainflow.PluginFunc{
			Spec: chainflow.IOSpec{Inputs: desc.InputTypes, Outputs: desc.OutputTypes},
			Fn:   fn,
		}
		require.NoError(t, registry.RegisterPlugin(desc, impl))
	}

	register(chainflow.PluginDescriptor{Name: "reader", OutputTypes: []string{"raw-bytes"}, AutoChain: true},
		func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			return map[string]any{"raw-bytes": "x,y"}, nil
		})
	register(chainflow.PluginDescriptor{Name: "parser", InputTypes: []string{"raw-bytes"}, OutputTypes: []string{"records"}, AutoChain: true},
		func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			return map[string]any{"records": []string{"x", "y"}}, nil
		})

	return s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := testServer(t).Router()

	rec := doJSON(t, router, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.EqualValues(t, 2, health["plugins"])
}

func TestPluginEndpoints(t *testing.T) {
	router := testServer(t).Router()

	desc := chainflow.PluginDescriptor{
		Name:        "aggregator",
		InputTypes:  []string{"records"},
		OutputTypes: []string{"report"},
		AutoChain:   true,
	}
	rec := doJSON(t, router, "POST", "/api/v1/plugins", desc)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate name conflicts.
	rec = doJSON(t, router, "POST", "/api/v1/plugins", desc)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Invalid descriptor rejected.
	rec = doJSON(t, router, "POST", "/api/v1/plugins", chainflow.PluginDescriptor{Name: "broken"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/plugins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var descs []chainflow.PluginDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descs))
	assert.Len(t, descs, 3)

	rec = doJSON(t, router, "GET", "/api/v1/plugins/aggregator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/plugins/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "DELETE", "/api/v1/plugins/aggregator", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, "GET", "/api/v1/plugins/aggregator", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChainEndpoints(t *testing.T) {
	router := testServer(t).Router()

	rec := doJSON(t, router, "POST", "/api/v1/chains", BuildRequest{
		Goal: chainflow.Goal{RequiredOutputTag: "records"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var chain chainflow.Chain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, "records", chain.GoalTag)
	assert.Len(t, chain.Nodes, 2)

	rec = doJSON(t, router, "GET", "/api/v1/chains/"+chain.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chains []chainflow.Chain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chains))
	assert.Len(t, chains, 1)

	// Unresolvable goal surfaces the typed error code.
	rec = doJSON(t, router, "POST", "/api/v1/chains", BuildRequest{
		Goal: chainflow.Goal{RequiredOutputTag: "nonexistent"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var apiErr ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "no_viable_chain", apiErr.Code)

	rec = doJSON(t, router, "DELETE", "/api/v1/chains/"+chain.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, "GET", "/api/v1/chains/"+chain.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func waitForTerminal(t *testing.T, router http.Handler, runID string) *chainflow.ChainRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, router, "GET", "/api/v1/runs/"+runID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		run := new(chainflow.ChainRun)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), run))
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
	return &chainflow.ChainRun{}
}

func TestRunEndpoints(t *testing.T) {
	router := testServer(t).Router()

	goal := &chainflow.Goal{RequiredOutputTag: "records"}
	rec := doJSON(t, router, "POST", "/api/v1/runs", RunRequest{Goal: goal, Mode: chainflow.ModeParallel})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started chainflow.ChainRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)
	assert.Equal(t, chainflow.ModeParallel, started.Mode)

	run := waitForTerminal(t, router, started.RunID)
	assert.Equal(t, chainflow.RunSucceeded, run.Status)
	for id, ns := range run.NodeState {
		assert.Equal(t, chainflow.NodeSucceeded, ns.Status, "node %s", id)
	}

	// Listing includes the finished run.
	rec = doJSON(t, router, "GET", "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []chainflow.ChainRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = doJSON(t, router, "GET", "/api/v1/runs?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Empty(t, runs)

	// Events were collected for the run.
	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/runs/%s/events", started.RunID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cleanup removes the record.
	rec = doJSON(t, router, "DELETE", "/api/v1/runs/"+started.RunID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, "GET", "/api/v1/runs/"+started.RunID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEndpointValidation(t *testing.T) {
	router := testServer(t).Router()

	rec := doJSON(t, router, "POST", "/api/v1/runs", RunRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/runs", RunRequest{ChainID: "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/runs", RunRequest{
		Goal: &chainflow.Goal{RequiredOutputTag: "records"},
		Mode: "warp-speed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/api/v1/runs/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunByPrebuiltChain(t *testing.T) {
	router := testServer(t).Router()

	rec := doJSON(t, router, "POST", "/api/v1/chains", BuildRequest{
		Goal: chainflow.Goal{RequiredOutputTag: "records"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var chain chainflow.Chain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))

	rec = doJSON(t, router, "POST", "/api/v1/runs", RunRequest{ChainID: chain.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started chainflow.ChainRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, chain.ID, started.ChainID)

	run := waitForTerminal(t, router, started.RunID)
	assert.Equal(t, chainflow.RunSucceeded, run.Status)
}

func TestSuggestionsEndpoint(t *testing.T) {
	router := testServer(t).Router()

	rec := doJSON(t, router, "POST", "/api/v1/suggestions", SuggestRequest{GoalText: "parse raw bytes into records"})
	require.Equal(t, http.StatusOK, rec.Code)

	var suggestions []chainflow.ChainSuggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	require.NotEmpty(t, suggestions)
	assert.NotEmpty(t, suggestions[0].Rationale)

	// Limit caps the list.
	rec = doJSON(t, router, "POST", "/api/v1/suggestions", SuggestRequest{GoalText: "parse raw bytes into records", Limit: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	assert.Len(t, suggestions, 1)

	// Missing goal text rejected.
	rec = doJSON(t, router, "POST", "/api/v1/suggestions", SuggestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRunEndpoint(t *testing.T) {
	s := New(Config{Host: "localhost", Port: 0})

	release := make(chan struct{})
	blocking := chainflow.PluginFunc{
		Spec: chainflow.IOSpec{Outputs: []string{"data"}},
		Fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{"data": 1}, nil
		},
	}
	require.NoError(t, s.Registry().RegisterPlugin(
		chainflow.PluginDescriptor{Name: "blocker", OutputTypes: []string{"data"}, AutoChain: true}, blocking))
	require.NoError(t, s.Registry().RegisterPlugin(
		chainflow.PluginDescriptor{Name: "consumer", InputTypes: []string{"data"}, OutputTypes: []string{"out"}, AutoChain: true},
		chainflow.PluginFunc{
			Spec: chainflow.IOSpec{Inputs: []string{"data"}, Outputs: []string{"out"}},
			Fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
				return map[string]any{"out": 2}, nil
			},
		}))
	router := s.Router()

	rec := doJSON(t, router, "POST", "/api/v1/runs", RunRequest{Goal: &chainflow.Goal{RequiredOutputTag: "out"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started chainflow.ChainRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/runs/%s/cancel", started.RunID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	close(release)

	run := waitForTerminal(t, router, started.RunID)
	assert.Equal(t, chainflow.RunCancelled, run.Status)
	assert.Equal(t, chainflow.NodePending, run.NodeState["consumer"].Status)
}
