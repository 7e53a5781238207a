// Package dashboard exposes the live-navigation state over HTTP: partition
// liveness, stream trees, coverage intervals, Prometheus metrics, and a
// WebSocket feed of live events.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamnav/config"
	"streamnav/navigation"
	"streamnav/partition"
	"streamnav/store"
	"streamnav/streamtree"
)

// Manager manages the dashboard HTTP server
type Manager struct {
	config       config.DashboardConfig
	session      *partition.Session
	registry     *prometheus.Registry
	server       *http.Server
	router       *mux.Router
	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex
	logger       kitlog.Logger
	wg           sync.WaitGroup
	mu           sync.RWMutex
	running      bool
}

// NewManager creates a new dashboard manager
func NewManager(cfg config.DashboardConfig, session *partition.Session, registry *prometheus.Registry, logger kitlog.Logger) *Manager {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	manager := &Manager{
		config:   cfg,
		session:  session,
		registry: registry,
		router:   mux.NewRouter(),
		clients:  make(map[*websocket.Conn]bool),
		logger:   logger,
	}

	// Setup routes
	manager.setupRoutes()

	return manager
}

// Start starts the dashboard server
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	// Create server
	m.server = &http.Server{
		Addr:    m.config.Addr,
		Handler: m.router,
	}

	// Start server in a goroutine
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(m.logger).Log("msg", "dashboard server error", "err", err)
		}
	}()

	m.running = true
	level.Info(m.logger).Log("msg", "dashboard server started", "addr", m.server.Addr)
	return nil
}

// Stop stops the dashboard server
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	// Close all WebSocket connections
	m.clientsMutex.Lock()
	for client := range m.clients {
		client.Close()
		delete(m.clients, client)
	}
	m.clientsMutex.Unlock()

	// Shutdown server with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down dashboard server: %w", err)
	}

	// Wait for all goroutines to finish
	m.wg.Wait()

	m.running = false
	level.Info(m.logger).Log("msg", "dashboard server stopped")
	return nil
}

// Close closes the dashboard manager
func (m *Manager) Close() error {
	return m.Stop()
}

// setupRoutes sets up the HTTP routes for the dashboard
func (m *Manager) setupRoutes() {
	api := m.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/partitions", m.handlePartitions).Methods("GET")
	api.HandleFunc("/streams", m.handleStreams).Methods("GET")
	api.HandleFunc("/streams/select", m.handleSelect).Methods("POST")
	api.HandleFunc("/ws", m.handleWebSocket).Methods("GET")

	if m.registry != nil {
		m.router.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}
}

// partitionView is the liveness summary for one partition
type partitionView struct {
	Name     string              `json:"name"`
	Path     string              `json:"path"`
	Live     bool                `json:"live"`
	Coverage navigation.Interval `json:"coverage"`
}

// handlePartitions reports the session's partitions and aggregate liveness
func (m *Manager) handlePartitions(w http.ResponseWriter, r *http.Request) {
	partitions := m.session.Partitions()
	views := make([]partitionView, 0, len(partitions))
	for _, p := range partitions {
		views = append(views, partitionView{
			Name:     p.Name(),
			Path:     p.Path(),
			Live:     p.IsLive(),
			Coverage: p.Tree().Root().OriginatingCoverage(),
		})
	}

	result := map[string]interface{}{
		"session":    m.session.Name(),
		"live":       m.session.IsLive(),
		"partitions": views,
	}
	if err := writeJSON(w, result); err != nil {
		http.Error(w, fmt.Sprintf("Error writing response: %v", err), http.StatusInternalServerError)
		return
	}
}

// nodeView is the JSON projection of one stream tree node
type nodeView struct {
	Name        string                `json:"name"`
	FullPath    string                `json:"fullPath"`
	Expanded    bool                  `json:"expanded"`
	Stream      *store.StreamMetadata `json:"stream,omitempty"`
	Coverage    navigation.Interval   `json:"coverage"`
	Originating navigation.Interval   `json:"originatingCoverage"`
	Children    []nodeView            `json:"children,omitempty"`
}

func viewOf(n *streamtree.Node) nodeView {
	view := nodeView{
		Name:        n.Name(),
		FullPath:    n.FullPath(),
		Expanded:    n.Expanded(),
		Stream:      n.Metadata(),
		Coverage:    n.Coverage(),
		Originating: n.OriginatingCoverage(),
	}
	for _, c := range n.Children() {
		view.Children = append(view.Children, viewOf(c))
	}
	return view
}

// handleStreams returns each partition's stream tree snapshot
func (m *Manager) handleStreams(w http.ResponseWriter, r *http.Request) {
	result := make(map[string][]nodeView)
	for _, p := range m.session.Partitions() {
		var roots []nodeView
		for _, c := range p.Tree().Root().Children() {
			roots = append(roots, viewOf(c))
		}
		result[p.Name()] = roots
	}
	if err := writeJSON(w, result); err != nil {
		http.Error(w, fmt.Sprintf("Error writing response: %v", err), http.StatusInternalServerError)
		return
	}
}

// handleSelect resolves a full stream path, marking ancestors expanded
func (m *Manager) handleSelect(w http.ResponseWriter, r *http.Request) {
	partName := r.URL.Query().Get("partition")
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}

	for _, p := range m.session.Partitions() {
		if partName != "" && p.Name() != partName {
			continue
		}
		if node := p.Tree().Select(path); node != nil {
			if err := writeJSON(w, viewOf(node)); err != nil {
				http.Error(w, fmt.Sprintf("Error writing response: %v", err), http.StatusInternalServerError)
			}
			return
		}
	}
	http.Error(w, fmt.Sprintf("Stream not found: %s", path), http.StatusNotFound)
}

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// handleWebSocket handles WebSocket connections
func (m *Manager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade the HTTP connection to a WebSocket connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Warn(m.logger).Log("msg", "error upgrading to WebSocket", "err", err)
		return
	}

	// Register the client
	m.clientsMutex.Lock()
	m.clients[conn] = true
	m.clientsMutex.Unlock()

	// Drain client messages until the connection closes
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.clientsMutex.Lock()
			delete(m.clients, conn)
			m.clientsMutex.Unlock()
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// liveEvent is one live update pushed to WebSocket clients
type liveEvent struct {
	Kind      string      `json:"kind"`
	Partition string      `json:"partition"`
	Payload   interface{} `json:"payload"`
}

// BroadcastEntry pushes a delivered entry to all connected clients. Safe to
// call from the delivery context.
func (m *Manager) BroadcastEntry(partitionName string, entry *store.Entry) {
	m.broadcast(liveEvent{Kind: "entry", Partition: partitionName, Payload: entry})
}

// BroadcastMetadata pushes a metadata update to all connected clients.
func (m *Manager) BroadcastMetadata(partitionName string, update store.MetadataUpdate) {
	m.broadcast(liveEvent{Kind: "metadata", Partition: partitionName, Payload: update})
}

// BroadcastLiveness pushes a liveness flip to all connected clients.
func (m *Manager) BroadcastLiveness(partitionName string, live bool) {
	m.broadcast(liveEvent{Kind: "liveness", Partition: partitionName, Payload: live})
}

func (m *Manager) broadcast(event liveEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		level.Warn(m.logger).Log("msg", "error marshaling live event", "err", err)
		return
	}

	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	for client := range m.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(m.clients, client)
		}
	}
}

// writeJSON writes the given value as JSON to the response writer
func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
