package devserver

import (
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"wayfarer/cmd/internal/ids"
	v1 "wayfarer/contracts/realtime/v1"
)

// Reserved fields are owned by the server and survive PUT and PATCH.
var reservedFields = []string{"id", "created_by", "created_at"}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("collection")
	s.mu.RLock()
	_, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return "", false
	}
	return name, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r, false); !ok {
		return
	}
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	s.mu.RLock()
	keys := slices.Sorted(maps.Keys(s.items[name]))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, maps.Clone(s.items[name][k]))
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r, false); !ok {
		return
	}
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	item, found := s.items[name][r.PathValue("id")]
	item = maps.Clone(item)
	s.mu.RUnlock()
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAuth(w, r, true)
	if !ok {
		return
	}
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, false, &body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "body must be a JSON object")
		return
	}

	item := maps.Clone(body)
	item["id"] = ids.Make()
	item["created_by"] = claims.UserID
	item["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	s.items[name][item["id"].(string)] = item
	item = maps.Clone(item)
	s.mu.Unlock()

	if name == "notifications" {
		s.pushNotification(claims.UserID, item)
	}
	writeJSON(w, http.StatusCreated, item)
}

// pushNotification fans a created notification out to the recipient's
// websocket sessions. The recipient is user_id when present, else the author.
func (s *Server) pushNotification(author string, item map[string]any) {
	to, _ := item["user_id"].(string)
	if to == "" {
		to = author
	}
	kind, _ := item["kind"].(string)
	text, _ := item["text"].(string)
	n := s.hub.Notify(to, v1.NotificationNewPayload{
		NotificationID: item["id"].(string),
		Kind:           kind,
		Text:           text,
	})
	s.log.Debug("devserver.notification.pushed", "user_id", to, "sessions", n)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, false)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, true)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, merge bool) {
	if _, ok := s.requireAuth(w, r, true); !ok {
		return
	}
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	var body map[string]any
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, false, &body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "body must be a JSON object")
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	cur, found := s.items[name][id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	next := body
	if merge {
		next = maps.Clone(cur)
		maps.Copy(next, body)
	}
	for _, f := range reservedFields {
		next[f] = cur[f]
	}
	next["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	s.items[name][id] = next
	out := maps.Clone(next)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r, true); !ok {
		return
	}
	name, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	_, found := s.items[name][id]
	delete(s.items[name], id)
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
