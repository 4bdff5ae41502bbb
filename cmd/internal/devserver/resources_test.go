package devserver

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestCollectionsCRUD(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("lara", "web")

	status, body := h.do(http.MethodPost, "/forums", map[string]any{"title": "Night trains"}, false, "")
	if status != http.StatusForbidden {
		t.Fatalf("create without csrf status=%d body=%s", status, body)
	}

	status, body = h.do(http.MethodPost, "/forums", map[string]any{"title": "Night trains", "id": "forged"}, true, "")
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", status, body)
	}
	var created map[string]any
	_ = json.Unmarshal(body, &created)
	id, _ := created["id"].(string)
	if id == "" || id == "forged" || created["created_by"] == "" {
		t.Fatalf("created=%v", created)
	}

	status, body = h.do(http.MethodPatch, "/forums/"+id, map[string]any{"pinned": true}, true, "")
	if status != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", status, body)
	}
	var patched map[string]any
	_ = json.Unmarshal(body, &patched)
	if patched["title"] != "Night trains" || patched["pinned"] != true {
		t.Fatalf("patch must merge: %v", patched)
	}

	status, body = h.do(http.MethodPut, "/forums/"+id, map[string]any{"title": "Sleeper trains"}, true, "")
	if status != http.StatusOK {
		t.Fatalf("put status=%d body=%s", status, body)
	}
	var replaced map[string]any
	_ = json.Unmarshal(body, &replaced)
	if _, ok := replaced["pinned"]; ok || replaced["id"] != id || replaced["created_at"] != created["created_at"] {
		t.Fatalf("put must replace but keep reserved fields: %v", replaced)
	}

	status, body = h.do(http.MethodGet, "/forums", nil, false, "")
	if status != http.StatusOK {
		t.Fatalf("list status=%d", status)
	}
	var list struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(body, &list)
	if len(list.Items) != 1 || list.Items[0]["title"] != "Sleeper trains" {
		t.Fatalf("list=%v", list.Items)
	}

	status, _ = h.do(http.MethodDelete, "/forums/"+id, nil, true, "")
	if status != http.StatusNoContent {
		t.Fatalf("delete status=%d", status)
	}
	status, _ = h.do(http.MethodGet, "/forums/"+id, nil, false, "")
	if status != http.StatusNotFound {
		t.Fatalf("get deleted status=%d", status)
	}
}

func TestCollectionsRequireAuthBeforeAnythingElse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/posts"},
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/posts"},
		{http.MethodDelete, "/posts/123"},
	}
	for _, tc := range cases {
		status, body := h.do(tc.method, tc.path, nil, false, "")
		if status != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
			t.Fatalf("%s %s: status=%d body=%s", tc.method, tc.path, status, body)
		}
	}
}

func TestCollectionsUnknownAndLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("mara", "web")

	status, _ := h.do(http.MethodGet, "/spaceships", nil, false, "")
	if status != http.StatusNotFound {
		t.Fatalf("unknown collection status=%d", status)
	}

	for i := 0; i < 3; i++ {
		if status, body := h.do(http.MethodPost, "/countries", map[string]any{"n": i}, true, ""); status != http.StatusCreated {
			t.Fatalf("create status=%d body=%s", status, body)
		}
	}
	status, body := h.do(http.MethodGet, "/countries?limit=2", nil, false, "")
	var list struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(body, &list)
	if status != http.StatusOK || len(list.Items) != 2 {
		t.Fatalf("status=%d items=%d", status, len(list.Items))
	}

	status, _ = h.do(http.MethodGet, "/countries?limit=-1", nil, false, "")
	if status != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", status)
	}
}
