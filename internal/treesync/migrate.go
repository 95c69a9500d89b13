package treesync

import (
	"context"
	"fmt"

	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

// Cache holds client-side workspace documents per scope ("guest:<id>" or
// "user:<id>") until they reach the server.
type Cache interface {
	List(ctx context.Context, scope string) ([]document.Workspace, error)
	Put(ctx context.Context, scope string, doc document.Workspace) error
	Clear(ctx context.Context, scope string) error
	Link(ctx context.Context, guestScope, userScope string) error
	Unlink(ctx context.Context, guestScope, userScope string) error
	Linked(ctx context.Context, userScope string) ([]string, error)
}

func GuestScope(guestID string) string { return "guest:" + guestID }

func UserScope(userID string) string { return "user:" + userID }

type Migrator struct {
	engine *Engine
	cache  Cache
}

func NewMigrator(engine *Engine, cache Cache) *Migrator {
	return &Migrator{engine: engine, cache: cache}
}

// Migrate copies every guest document into the user's cache scope and
// links the two scopes. Guest copies stay until Confirm, so a failed
// migration can be retried.
func (m *Migrator) Migrate(ctx context.Context, guestID, userID string) (int, error) {
	guestScope, userScope := GuestScope(guestID), UserScope(userID)
	docs, err := m.cache.List(ctx, guestScope)
	if err != nil {
		return 0, fmt.Errorf("list guest workspaces: %w", err)
	}
	for _, doc := range docs {
		if err := m.cache.Put(ctx, userScope, doc); err != nil {
			return 0, fmt.Errorf("copy workspace %q: %w", doc.Title, err)
		}
	}
	if err := m.cache.Link(ctx, guestScope, userScope); err != nil {
		return 0, err
	}
	m.engine.log.Info().Str("guest_id", guestID).Str("user_id", userID).Int("workspaces", len(docs)).Msg("guest workspaces migrated")
	return len(docs), nil
}

// Confirm drops the guest copies after the client has seen the migration
// succeed.
func (m *Migrator) Confirm(ctx context.Context, guestID, userID string) error {
	guestScope := GuestScope(guestID)
	if err := m.cache.Clear(ctx, guestScope); err != nil {
		return fmt.Errorf("clear guest workspaces: %w", err)
	}
	return m.cache.Unlink(ctx, guestScope, UserScope(userID))
}

// Flush upserts every cached document of the user to the server in one
// transaction, then clears the user scope and every guest scope linked to
// it. It returns the number of workspaces written.
func (m *Migrator) Flush(ctx context.Context, userID string) (int, error) {
	userScope := UserScope(userID)
	docs, err := m.cache.List(ctx, userScope)
	if err != nil {
		return 0, fmt.Errorf("list cached workspaces: %w", err)
	}

	var saved []store.Workspace
	if len(docs) > 0 {
		e := m.engine
		var orphans []string
		err = e.store.InTx(ctx, func(r Repo) error {
			for _, doc := range docs {
				ws, dropped, err := e.upsertWith(ctx, r, userID, doc)
				if err != nil {
					return fmt.Errorf("flush %q: %w", doc.Title, err)
				}
				saved = append(saved, ws)
				orphans = append(orphans, dropped...)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		e.codec.DeleteBlobs(ctx, orphans)
		e.committed(ctx, saved)
	}

	linked, err := m.cache.Linked(ctx, userScope)
	if err != nil {
		return len(saved), err
	}
	for _, guestScope := range linked {
		if err := m.cache.Clear(ctx, guestScope); err != nil {
			return len(saved), err
		}
		if err := m.cache.Unlink(ctx, guestScope, userScope); err != nil {
			return len(saved), err
		}
	}
	if err := m.cache.Clear(ctx, userScope); err != nil {
		return len(saved), err
	}
	return len(saved), nil
}
