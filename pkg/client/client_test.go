package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chainflow "chainflow/core"
)

func TestRequestDecodesJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plugins" || r.Method != "GET" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]chainflow.PluginDescriptor{
			{Name: "reader", OutputTypes: []string{"raw-bytes"}, AutoChain: true},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	descs, err := c.ListPlugins()
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "reader" {
		t.Errorf("unexpected response: %+v", descs)
	}
}

func TestRequestSendsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var desc chainflow.PluginDescriptor
		if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
			t.Errorf("body not decodable: %v", err)
		}
		if desc.Name != "parser" {
			t.Errorf("unexpected body: %+v", desc)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(desc)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	err := c.RegisterPlugin(chainflow.PluginDescriptor{
		Name: "parser", InputTypes: []string{"raw-bytes"}, OutputTypes: []string{"records"},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
}

func TestRequestSurfacesAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found", "code": "not_found"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	if _, err := c.GetRun("missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
