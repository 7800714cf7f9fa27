package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	chainflow "chainflow/core"
	"chainflow/core/pubsub"

	"github.com/gorilla/mux"
)

var GlobalDebugEnabled bool

// Server exposes the chain engine over REST: plugin registration, chain
// construction, run execution and monitoring, and suggestions.
type Server struct {
	config    Config
	registry  *chainflow.PluginRegistry
	builder   *chainflow.ChainBuilder
	executor  *chainflow.ChainExecutor
	store     *chainflow.StateStore
	bus       pubsub.Bus
	eventLog  *chainflow.EventLog

	// scorer used for suggestions; replaceable by embedding hosts.
	scorer chainflow.RelevanceScorer

	chains   map[string]*chainflow.Chain // built chains by chain ID
	chainsMu sync.RWMutex

	execConfig chainflow.ExecutorConfig

	router     *mux.Router
	routesOnce sync.Once
	httpServer *http.Server
}

// New creates a server. Plugin descriptors from the config file (if any) are
// registered descriptor-only; implementations are attached by the hosting
// process through Registry before Start.
func New(config Config) *Server {
	registry := chainflow.NewPluginRegistry()

	var store *chainflow.StateStore
	if config.MemoryPath != "" {
		store = chainflow.NewStateStoreWithPath(config.MemoryPath)
	} else {
		store = chainflow.NewStateStore()
	}

	bus := pubsub.NewInMemoryBus()

	var execConfig chainflow.ExecutorConfig
	if config.ConfigPath != "" {
		if _, err := os.Stat(config.ConfigPath); err == nil {
			engineConfig, err := chainflow.LoadConfigFromYAML(config.ConfigPath)
			if err != nil {
				log.Printf("[SERVER] Warning: failed to load config %s: %v\n", config.ConfigPath, err)
			} else {
				if err := chainflow.RegisterConfiguredPlugins(engineConfig, registry); err != nil {
					log.Printf("[SERVER] Warning: failed to register configured plugins: %v\n", err)
				}
				execConfig = engineConfig.Executor
				log.Printf("[SERVER] Registered %d plugins from %s\n", len(engineConfig.Plugins), config.ConfigPath)
			}
		}
	}

	GlobalDebugEnabled = config.Debug
	chainflow.DebugLoggingEnabled = config.Debug

	return &Server{
		config:     config,
		registry:   registry,
		builder:    chainflow.NewChainBuilder(registry),
		executor:   chainflow.NewChainExecutor(registry, store, bus),
		store:      store,
		bus:        bus,
		eventLog:   chainflow.NewEventLog(bus),
		scorer:     chainflow.TagOverlapScorer{},
		chains:     make(map[string]*chainflow.Chain),
		execConfig: execConfig,
		router:     mux.NewRouter(),
	}
}

// Registry returns the server's plugin registry so hosts can attach plugin
// implementations before Start.
func (s *Server) Registry() *chainflow.PluginRegistry {
	return s.registry
}

// SetScorer overrides the relevance scorer used by the suggestions endpoint.
func (s *Server) SetScorer(scorer chainflow.RelevanceScorer) {
	if scorer != nil {
		s.scorer = scorer
	}
}

// Router returns the configured HTTP handler (routes included), for tests
// and for embedding into an existing server.
func (s *Server) Router() http.Handler {
	s.setupRoutes()
	return s.router
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-stop
		log.Printf("Received signal: %v. Shutting down server gracefully...\n", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v\n", err)
		}
	}()

	log.Printf("chainflow server starting on %s\n", addr)

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	log.Println("Server stopped")
	return nil
}

// Shutdown cancels active runs, closes the event bus and stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down components...")

	for _, run := range s.store.ListActive() {
		if err := s.store.Cancel(run.RunID); err == nil {
			InfoLog("[SERVER] Cancelled active run %s for shutdown", run.RunID)
		}
	}
	s.bus.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.routesOnce.Do(s.registerRoutes)
}

func (s *Server) registerRoutes() {
	s.router.Use(corsMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Plugins CRUD
	plugins := api.PathPrefix("/plugins").Subrouter()
	plugins.HandleFunc("", s.registerPlugin).Methods("POST")
	plugins.HandleFunc("", s.listPlugins).Methods("GET")
	plugins.HandleFunc("", s.handleOptions).Methods("OPTIONS")
	plugins.HandleFunc("/{name}", s.getPlugin).Methods("GET")
	plugins.HandleFunc("/{name}", s.unregisterPlugin).Methods("DELETE")
	plugins.HandleFunc("/{name}", s.handleOptions).Methods("OPTIONS")

	// Chain construction
	chains := api.PathPrefix("/chains").Subrouter()
	chains.HandleFunc("", s.buildChain).Methods("POST")
	chains.HandleFunc("", s.listChains).Methods("GET")
	chains.HandleFunc("", s.handleOptions).Methods("OPTIONS")
	chains.HandleFunc("/{id}", s.getChain).Methods("GET")
	chains.HandleFunc("/{id}", s.deleteChain).Methods("DELETE")
	chains.HandleFunc("/{id}", s.handleOptions).Methods("OPTIONS")

	// Runs
	runs := api.PathPrefix("/runs").Subrouter()
	runs.HandleFunc("", s.startRun).Methods("POST")
	runs.HandleFunc("", s.listRuns).Methods("GET")
	runs.HandleFunc("", s.handleOptions).Methods("OPTIONS")
	runs.HandleFunc("/{id}", s.getRun).Methods("GET")
	runs.HandleFunc("/{id}", s.cleanupRun).Methods("DELETE")
	runs.HandleFunc("/{id}", s.handleOptions).Methods("OPTIONS")
	runs.HandleFunc("/{id}/cancel", s.cancelRun).Methods("POST", "OPTIONS")
	runs.HandleFunc("/{id}/events", s.getRunEvents).Methods("GET", "OPTIONS")

	// Suggestions
	api.HandleFunc("/suggestions", s.suggestChains).Methods("POST", "OPTIONS")

	// Health check
	api.HandleFunc("/health", s.healthCheck).Methods("GET")
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
	w.WriteHeader(http.StatusOK)
}

// InfoLog prints logs if debug is enabled
func InfoLog(format string, v ...any) {
	if GlobalDebugEnabled {
		log.Printf(format, v...)
	}
}

// ErrorLog always prints logs
func ErrorLog(format string, v ...any) {
	log.Printf(format, v...)
}
