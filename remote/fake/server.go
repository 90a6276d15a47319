package fake

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Server serves the REST contract from memory. Items are kept as raw JSON
// keyed by collection, user and id.
type Server struct {
	mux  *http.ServeMux
	down atomic.Bool

	mu   sync.Mutex
	data map[string]map[string]map[string]json.RawMessage
}

func NewServer() *Server {
	s := &Server{mux: http.NewServeMux(), data: make(map[string]map[string]map[string]json.RawMessage)}
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /{name}", s.list)
	s.mux.HandleFunc("POST /{name}", s.create)
	s.mux.HandleFunc("PUT /{name}/{id}", s.update)
	s.mux.HandleFunc("DELETE /{name}/{id}", s.remove)
	return s
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) { s.down.Store(down) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.down.Load() {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Len counts a user's items in one collection.
func (s *Server) Len(name, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[name][userID])
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	items := s.data[r.PathValue("name")][userID]
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, items[id])
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

type ident struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	raw, id, ok := readItem(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.data[r.PathValue("name")]
	if users == nil {
		users = make(map[string]map[string]json.RawMessage)
		s.data[r.PathValue("name")] = users
	}
	items := users[id.UserID]
	if items == nil {
		items = make(map[string]json.RawMessage)
		users[id.UserID] = items
	}
	if _, exists := items[id.ID]; exists {
		http.Error(w, "exists", http.StatusConflict)
		return
	}
	items[id.ID] = raw
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	raw, id, ok := readItem(w, r)
	if !ok {
		return
	}
	if id.ID != r.PathValue("id") {
		http.Error(w, "id mismatch", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.data[r.PathValue("name")][id.UserID]
	if _, exists := items[id.ID]; !exists {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	items[id.ID] = raw
	w.WriteHeader(http.StatusOK)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.data[r.PathValue("name")][userID]
	if _, exists := items[r.PathValue("id")]; !exists {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	delete(items, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func readItem(w http.ResponseWriter, r *http.Request) (json.RawMessage, ident, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return nil, ident{}, false
	}
	var id ident
	if err := json.Unmarshal(raw, &id); err != nil || id.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return nil, ident{}, false
	}
	if id.UserID == "" {
		id.UserID = r.URL.Query().Get("userId")
	}
	return raw, id, true
}
