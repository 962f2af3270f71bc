// Package server exposes a fstree.Tree over HTTP.
//
// Every GET or HEAD below / is traversed into the tree and answered with
// the node's resolved source. Paths under /_servedir/ are reserved for the
// health check, Prometheus metrics and the live reload websocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/logging"
	"github.com/conneroisu/servedir/internal/metrics"
	"github.com/conneroisu/servedir/internal/version"
	"github.com/conneroisu/servedir/internal/watcher"
)

// Prefix reserves a namespace for the server's own endpoints
const Prefix = "/_servedir/"

// ReloadScriptPath serves the live reload client
const ReloadScriptPath = Prefix + "reload.js"

const broadcastWait = 5 * time.Second

// Server serves a tree with live reload capability
type Server struct {
	config  *config.Config
	tree    *fstree.Tree
	logger  logging.Logger
	metrics *metrics.Metrics
	hub     *Hub

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
	started      time.Time
}

// UpdateMessage is sent to live reload clients
type UpdateMessage struct {
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Scripts returns the scripts generated pages load for cfg: the live
// reload client when live reload is on.
func Scripts(cfg *config.ServerConfig) []string {
	if !cfg.LiveReload {
		return nil
	}
	return []string{ReloadScriptPath}
}

// New creates a server for tree. A nil logger discards output and nil
// metrics disables instrumentation.
func New(cfg *config.Config, tree *fstree.Tree, logger logging.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")
	return &Server{
		config:  cfg,
		tree:    tree,
		logger:  logger,
		metrics: m,
		hub:     NewHub(logger),
		started: time.Now(),
	}
}

// Handler returns the routed and instrumented HTTP handler
func (s *Server) Handler() http.Handler {
	var files http.Handler = http.HandlerFunc(s.handleFile)
	if s.config.Server.Compress {
		files = gzhttp.GzipHandler(files)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Prefix+"health", s.handleHealth)
	mux.Handle(Prefix+"metrics", s.metrics.Handler())
	if s.config.Server.LiveReload {
		mux.HandleFunc(Prefix+"ws", s.handleWebSocket)
		mux.HandleFunc(ReloadScriptPath, s.handleReloadScript)
	}
	mux.Handle("/", files)

	return s.addMiddleware(mux)
}

// Start runs the websocket hub and serves until Shutdown is called
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving directory",
		"name", s.config.Server.Name,
		"root", s.tree.Root().Path(),
		"addr", "http://"+server.Addr,
		"plugins", len(s.tree.Plugins()))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Broadcast tells every live reload client which paths changed. It has the
// shape of a watcher.ChangeHandler and waits for refreshes already
// scheduled on the tree so reloading clients see the new content.
func (s *Server) Broadcast(ctx context.Context, events []watcher.ChangeEvent) error {
	waitCtx, cancel := context.WithTimeout(ctx, broadcastWait)
	defer cancel()
	if err := s.tree.Wait(waitCtx); err != nil {
		s.logger.Warn(ctx, err, "Tree still busy, reloading clients anyway")
	}

	root := s.tree.Root().Path()
	for _, event := range events {
		s.broadcastMessage(UpdateMessage{
			Type:      "reload",
			Path:      urlPath(root, event.Path),
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

func (s *Server) broadcastMessage(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to marshal update message")
		data = []byte(`{"type":"reload"}`)
	}
	s.hub.Broadcast(data)
}

// Shutdown stops the HTTP server and disconnects every websocket client
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		s.hub.Close()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})
	return shutdownErr
}

// handleHealth reports the version and the state of the tree's queues
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"name":      s.config.Server.Name,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.Short(),
		"tree":      s.tree.Stats(),
		"clients":   s.hub.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}
