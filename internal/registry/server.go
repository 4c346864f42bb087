// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/ironcore-dev/metal-agent/internal/api/registry"
)

// DefaultHeartbeatTimeout is handed to agents on lookup, in seconds.
const DefaultHeartbeatTimeout = 300

// Heartbeat is the last heartbeat received for a node.
type Heartbeat struct {
	registry.HeartbeatPayload
	ReceivedAt time.Time
}

type nodeEntry struct {
	node      registry.Node
	macs      sets.Set[string]
	heartbeat *Heartbeat
}

// Server holds the HTTP server's state: the inventories registered by
// agents and the node contexts agents look themselves up by.
type Server struct {
	addr             string
	mux              *http.ServeMux
	systemsStore     *sync.Map
	log              logr.Logger
	heartbeatTimeout int

	mu    sync.RWMutex
	nodes map[string]*nodeEntry
}

// NewServer initializes and returns a new Server instance.
func NewServer(log logr.Logger, addr string) *Server {
	mux := http.NewServeMux()
	server := &Server{
		addr:             addr,
		mux:              mux,
		systemsStore:     &sync.Map{},
		log:              log,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		nodes:            map[string]*nodeEntry{},
	}
	server.routes()
	return server
}

// routes registers the server's routes.
func (s *Server) routes() {
	s.mux.HandleFunc("/register", s.registerHandler)
	s.mux.HandleFunc("/delete/", s.deleteHandler)
	s.mux.HandleFunc("/systems/", s.systemsHandler)
	s.mux.HandleFunc("/v1/nodes/", s.nodesHandler)
	s.mux.HandleFunc("/v1/lookup", s.lookupHandler)
	s.mux.HandleFunc("/v1/heartbeat/", s.heartbeatHandler)
}

// Handler returns the routes, e.g. for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SeedNode makes node known under the given MAC addresses, replacing an
// earlier entry with the same UUID.
func (s *Server) SeedNode(node registry.Node, macs ...string) {
	set := sets.New[string]()
	for _, mac := range macs {
		set.Insert(strings.ToLower(mac))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.UUID] = &nodeEntry{node: node, macs: set}
	s.log.Info("Seeded node", "uuid", node.UUID, "macs", sets.List(set))
}

// LastHeartbeat returns the last heartbeat of the node with uuid.
func (s *Server) LastHeartbeat(uuid string) (Heartbeat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.nodes[uuid]
	if !ok || entry.heartbeat == nil {
		return Heartbeat{}, false
	}
	return *entry.heartbeat, true
}

// Inventory returns the inventory registered for a system UUID.
func (s *Server) Inventory(uuid string) (registry.Inventory, bool) {
	value, ok := s.systemsStore.Load(uuid)
	if !ok {
		return registry.Inventory{}, false
	}
	inventory, ok := value.(registry.Inventory)
	return inventory, ok
}

// registerHandler handles the /register endpoint.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var reg registry.RegistrationPayload
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if reg.SystemUUID == "" {
		http.Error(w, "systemUUID is required", http.StatusBadRequest)
		return
	}

	s.systemsStore.Store(reg.SystemUUID, reg.Data)
	s.log.Info("Registered system UUID", "uuid", reg.SystemUUID)
	w.WriteHeader(http.StatusCreated)
}

// systemsHandler handles the /systems/{uuid} endpoint.
func (s *Server) systemsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	uuid := strings.TrimPrefix(r.URL.Path, "/systems/")
	inventory, ok := s.Inventory(uuid)
	if !ok {
		s.log.Info("System not found", "uuid", uuid)
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, inventory)
}

// deleteHandler handles the DELETE requests to remove a system by UUID.
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Info("Received delete request", "method", r.Method, "uri", r.RequestURI)

	if r.Method != http.MethodDelete {
		http.Error(w, "Only DELETE method is allowed", http.StatusMethodNotAllowed)
		return
	}

	uuid := strings.TrimPrefix(r.URL.Path, "/delete/")
	if _, loaded := s.systemsStore.LoadAndDelete(uuid); !loaded {
		http.NotFound(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
	s.log.Info("Deleted system UUID", "uuid", uuid)
}

// nodesHandler seeds (PUT) and returns (GET) node contexts at
// /v1/nodes/{uuid}.
func (s *Server) nodesHandler(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimPrefix(r.URL.Path, "/v1/nodes/")
	if uuid == "" {
		http.Error(w, "node UUID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var reg registry.NodeRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if reg.Node.UUID != "" && reg.Node.UUID != uuid {
			http.Error(w, fmt.Sprintf("node UUID %s does not match path %s", reg.Node.UUID, uuid), http.StatusBadRequest)
			return
		}
		reg.Node.UUID = uuid
		s.SeedNode(reg.Node, reg.MACAddresses...)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.mu.RLock()
		entry, ok := s.nodes[uuid]
		s.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.writeJSON(w, http.StatusOK, entry.node)
	default:
		http.Error(w, "Only GET and PUT methods are allowed", http.StatusMethodNotAllowed)
	}
}

// lookupHandler finds the node of an agent by node_uuid or by any of the
// comma separated MAC addresses.
func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	uuid := query.Get("node_uuid")
	var addresses []string
	for _, addr := range strings.Split(query.Get("addresses"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, strings.ToLower(addr))
		}
	}
	if uuid == "" && len(addresses) == 0 {
		http.Error(w, "addresses or node_uuid is required", http.StatusBadRequest)
		return
	}

	node, ok := s.lookup(uuid, addresses)
	if !ok {
		s.log.Info("Lookup found no node", "uuid", uuid, "addresses", addresses)
		http.NotFound(w, r)
		return
	}
	s.log.Info("Node looked up", "uuid", node.UUID)
	s.writeJSON(w, http.StatusOK, registry.LookupResponse{
		Node:   node,
		Config: registry.AgentConfig{HeartbeatTimeout: s.heartbeatTimeout},
	})
}

func (s *Server) lookup(uuid string, addresses []string) (registry.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.nodes[uuid]; ok {
		return entry.node, true
	}
	for _, entry := range s.nodes {
		if entry.macs.HasAny(addresses...) {
			return entry.node, true
		}
	}
	return registry.Node{}, false
}

// heartbeatHandler records heartbeats at /v1/heartbeat/{uuid}.
func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}
	uuid := strings.TrimPrefix(r.URL.Path, "/v1/heartbeat/")

	var payload registry.HeartbeatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	entry, ok := s.nodes[uuid]
	if ok {
		entry.heartbeat = &Heartbeat{HeartbeatPayload: payload, ReceivedAt: time.Now()}
	}
	s.mu.Unlock()
	if !ok {
		s.log.Info("Heartbeat for unknown node", "uuid", uuid)
		http.NotFound(w, r)
		return
	}
	s.log.V(1).Info("Heartbeat received", "uuid", uuid, "callbackURL", payload.CallbackURL, "agentVersion", payload.AgentVersion)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(err, "Failed to encode response")
	}
}

// Start starts the server on the specified address and adds logging for key events.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting registry server", "address", s.addr)
	server := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	// Start the server in a new goroutine.
	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP registry server ListenAndServe: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down registry server...")
		if err := server.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("HTTP server Shutdown: %w", err)
		}
		s.log.Info("Registry server graciously stopped")
		return nil
	case err := <-errChan:
		return err
	}
}
