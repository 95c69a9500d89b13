package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mindnote/api/internal/document"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPutAndListWorkspaces(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	docs := []document.Workspace{
		{Title: "Trip", Status: "in_progress", Elements: document.Elements{{Type: "text", Content: "hi"}}},
		{Title: "Alpha"},
	}
	for _, doc := range docs {
		if err := store.Put(ctx, "guest:g1", doc); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := store.List(ctx, "guest:g1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(got))
	}
	if got[0].Title != "Alpha" || got[1].Title != "Trip" {
		t.Errorf("expected title order Alpha, Trip, got %s, %s", got[0].Title, got[1].Title)
	}
	if len(got[1].Elements) != 1 || got[1].Elements[0].Content != "hi" || got[1].Elements[0].Type != "text" {
		t.Errorf("elements not preserved: %+v", got[1].Elements)
	}

	if ttl := s.TTL(store.docsKey("guest:g1")); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}
}

func TestPutReplacesSameTitle(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	_ = store.Put(ctx, "user:u1", document.Workspace{Title: "Trip", Status: "not_started"})
	_ = store.Put(ctx, "user:u1", document.Workspace{Title: "Trip", Status: "completed"})

	doc, err := store.Get(ctx, "user:u1", "Trip")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Status != "completed" {
		t.Errorf("expected latest version, got status %q", doc.Status)
	}
}

func TestCacheExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "guest:g1", document.Workspace{Title: "Gone"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	s.FastForward(2 * time.Hour)

	got, err := store.List(ctx, "guest:g1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected expired scope to be empty, got %d", len(got))
	}
}

func TestDeleteAndClear(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	_ = store.Put(ctx, "guest:g1", document.Workspace{Title: "A"})
	_ = store.Put(ctx, "guest:g1", document.Workspace{Title: "B"})

	if err := store.Delete(ctx, "guest:g1", "A"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "guest:g1", "A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "guest:g1", "A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from Get, got %v", err)
	}

	if err := store.Clear(ctx, "guest:g1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ := store.List(ctx, "guest:g1")
	if len(got) != 0 {
		t.Errorf("expected empty scope after clear, got %d", len(got))
	}
}

func TestScopeIsolationAndLinks(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	_ = store.Put(ctx, "guest:g1", document.Workspace{Title: "Guest"})
	_ = store.Put(ctx, "user:u1", document.Workspace{Title: "User"})

	guestDocs, _ := store.List(ctx, "guest:g1")
	if len(guestDocs) != 1 || guestDocs[0].Title != "Guest" {
		t.Errorf("guest scope leaked: %+v", guestDocs)
	}

	if err := store.Link(ctx, "guest:g1", "user:u1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := store.Link(ctx, "guest:g2", "user:u1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	linked, err := store.Linked(ctx, "user:u1")
	if err != nil {
		t.Fatalf("Linked failed: %v", err)
	}
	if len(linked) != 2 || linked[0] != "guest:g1" || linked[1] != "guest:g2" {
		t.Errorf("unexpected linked scopes: %v", linked)
	}

	if err := store.Unlink(ctx, "guest:g1", "user:u1"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	linked, _ = store.Linked(ctx, "user:u1")
	if len(linked) != 1 || linked[0] != "guest:g2" {
		t.Errorf("unexpected linked scopes after unlink: %v", linked)
	}
}

func TestRevokeToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}

	revoked, _ = store.IsRevoked(ctx, "jti-2")
	if revoked {
		t.Error("expected jti-2 to be usable")
	}

	s.FastForward(2 * time.Hour)
	revoked, _ = store.IsRevoked(ctx, "jti-1")
	if revoked {
		t.Error("expected revocation to lapse with the token")
	}

	if err := store.Revoke(ctx, "jti-3", time.Now().Add(-time.Minute)); err != nil {
		t.Errorf("Revoke of expired token failed: %v", err)
	}
}
