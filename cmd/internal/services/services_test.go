package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"wayfarer/cmd/internal/client"
	"wayfarer/cmd/internal/devserver"
	"wayfarer/cmd/internal/services"
	"wayfarer/cmd/internal/transport"
)

func newServices(t *testing.T) (*services.Services, *devserver.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := devserver.DefaultConfig()
	cfg.Argon2 = devserver.Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	srv, err := devserver.New(cfg, devserver.WithLogger(log))
	if err != nil {
		t.Fatalf("devserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ccfg := client.DefaultConfig()
	ccfg.BaseURL = ts.URL
	ccfg.Timeout = 5 * time.Second
	c, err := client.New(context.Background(), ccfg, client.WithLogger(log))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Register(context.Background(), client.RegisterRequest{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "correct horse battery",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return services.New(c), srv
}

func TestResourceLifecycle(t *testing.T) {
	t.Parallel()
	svc, _ := newServices(t)
	ctx := context.Background()

	created, err := svc.Forums.Create(ctx, services.Forum{Title: "Andes", Description: "high passes"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.CreatedBy == "" || created.CreatedAt == nil {
		t.Fatalf("server fields missing: %+v", created.Meta)
	}

	got, err := svc.Forums.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Andes" {
		t.Fatalf("Get title=%q", got.Title)
	}

	updated, err := svc.Forums.Update(ctx, created.ID, services.Forum{Title: "Andes trekking"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "Andes trekking" || updated.Description != "" || updated.UpdatedAt == nil {
		t.Fatalf("Update result=%+v", updated)
	}
	if updated.CreatedBy != created.CreatedBy {
		t.Fatalf("created_by changed: %q -> %q", created.CreatedBy, updated.CreatedBy)
	}

	patched, err := svc.Forums.Patch(ctx, created.ID, map[string]any{"description": "patched"})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched.Title != "Andes trekking" || patched.Description != "patched" {
		t.Fatalf("Patch result=%+v", patched)
	}

	if err := svc.Forums.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = svc.Forums.Get(ctx, created.ID)
	var herr *transport.HTTPError
	if !errors.As(err, &herr) || herr.Status != http.StatusNotFound {
		t.Fatalf("Get after delete err=%v want 404", err)
	}
}

func TestListHonoursLimitAcrossRenewal(t *testing.T) {
	t.Parallel()
	svc, srv := newServices(t)
	ctx := context.Background()

	for _, name := range []string{"Chile", "Peru", "Bolivia"} {
		if _, err := svc.Countries.Create(ctx, services.Country{Code: name[:2], Name: name}); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	srv.ExpireAccess()
	items, err := svc.Countries.List(ctx, services.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items=%d want 2", len(items))
	}
	if st := srv.Stats(); st.RefreshCalls != 1 {
		t.Fatalf("refresh calls=%d want 1", st.RefreshCalls)
	}

	all, err := svc.Countries.List(ctx, services.ListOptions{Extra: url.Values{"sort": {"name"}}})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("items=%d want 3", len(all))
	}
}

func TestUsersMe(t *testing.T) {
	t.Parallel()
	svc, _ := newServices(t)

	me, err := svc.Users.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.Username == nil || *me.Username != "ada" {
		t.Fatalf("Me=%+v", me)
	}
}

func TestInvalidIDs(t *testing.T) {
	t.Parallel()
	svc := services.New(nil)

	for _, id := range []string{"", "  ", "a/b", "x?y"} {
		if _, err := svc.Posts.Get(context.Background(), id); !errors.Is(err, services.ErrInvalidID) {
			t.Fatalf("Get(%q) err=%v want ErrInvalidID", id, err)
		}
		if err := svc.Posts.Delete(context.Background(), id); !errors.Is(err, services.ErrInvalidID) {
			t.Fatalf("Delete(%q) err=%v want ErrInvalidID", id, err)
		}
	}
	if got := svc.Travels.Path(); got != "/travels" {
		t.Fatalf("Path=%q", got)
	}
}
