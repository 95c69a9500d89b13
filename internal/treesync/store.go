package treesync

import (
	"context"

	"mindnote/api/internal/store"
)

// Repo is the storage surface the engine needs. *store.Queries satisfies it
// both on the pool and inside a transaction.
type Repo interface {
	GetWorkspaceByTitle(ctx context.Context, authorID, title string) (store.Workspace, error)
	LockWorkspaceByTitle(ctx context.Context, authorID, title string) (store.Workspace, error)
	ListWorkspaces(ctx context.Context, authorID string) ([]store.Workspace, error)
	InsertWorkspace(ctx context.Context, ws store.Workspace) error
	UpdateWorkspace(ctx context.Context, ws store.Workspace) error
	ClearWorkspaceContent(ctx context.Context, workspaceID string) error

	InsertPage(ctx context.Context, page store.Page) error
	ListPages(ctx context.Context, workspaceID string) ([]store.Page, error)

	InsertElement(ctx context.Context, el store.Element) error
	ListElements(ctx context.Context, workspaceID string) ([]store.Element, error)
}

// Store is a Repo that can also run a function atomically.
type Store interface {
	Repo
	InTx(ctx context.Context, fn func(Repo) error) error
}

type postgresStore struct {
	*store.PostgresStore
}

// FromPostgres adapts the Postgres store to Store.
func FromPostgres(s *store.PostgresStore) Store {
	return postgresStore{PostgresStore: s}
}

func (s postgresStore) InTx(ctx context.Context, fn func(Repo) error) error {
	return s.PostgresStore.InTx(ctx, func(q *store.Queries) error {
		return fn(q)
	})
}
