package store

import (
	"context"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("MINDNOTE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("MINDNOTE_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := getTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db, Migrations()))
	return NewPostgresStore(db), ctx
}

func resetPublicSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sqlx.DB, migrations fs.FS) error {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return err
	}
	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	downs := make([]string, 0)
	for _, entry := range entries {
		if pattern.MatchString(entry.Name()) {
			downs = append(downs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		sqlBytes, err := fs.ReadFile(migrations, name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	db := s.DB()

	require.NoError(t, applyDownMigrations(ctx, db, Migrations()))
	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, db, Migrations()))
}

func seedWorkspace(t *testing.T, ctx context.Context, s *PostgresStore) Workspace {
	t.Helper()
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_1", Email: "Ann@Example.com", DisplayName: "Ann", PasswordHash: "x"}))
	ws := Workspace{ID: "ws_1", AuthorID: "usr_1", Title: "Trip", Status: "not_started", Tags: Tags{"travel"}}
	require.NoError(t, s.InsertWorkspace(ctx, ws))
	return ws
}

func TestPostgresSingleMainPage(t *testing.T) {
	s, ctx := openTestStore(t)
	ws := seedWorkspace(t, ctx, s)

	for i, id := range []string{"pg_a", "pg_b"} {
		page := Page{ID: id, WorkspaceID: ws.ID, Title: id, IsMain: true, Position: i}
		require.NoError(t, s.InTx(ctx, func(q *Queries) error {
			if err := q.LockWorkspace(ctx, ws.ID); err != nil {
				return err
			}
			return q.InsertPage(ctx, page)
		}))
	}

	pages, err := s.ListPages(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.False(t, pages[0].IsMain)
	assert.True(t, pages[1].IsMain)

	assert.ErrorIs(t, s.DeletePage(ctx, ws.ID, "pg_b"), ErrProtectedPage)
	assert.ErrorIs(t, s.RenamePage(ctx, ws.ID, "pg_b", "renamed"), ErrProtectedPage)
	assert.NoError(t, s.DeletePage(ctx, ws.ID, "pg_a"))
	assert.ErrorIs(t, s.DeletePage(ctx, ws.ID, "pg_a"), ErrNotFound)
}

func TestPostgresElementContainerAndLinks(t *testing.T) {
	s, ctx := openTestStore(t)
	ws := seedWorkspace(t, ctx, s)
	require.NoError(t, s.InsertPage(ctx, Page{ID: "pg_1", WorkspaceID: ws.ID, Title: "P1"}))

	err := s.InsertElement(ctx, Element{ID: "el_0", Kind: KindText, Content: "orphan"})
	assert.ErrorIs(t, err, ErrMissingContainer)

	wsID, pageID := ws.ID, "pg_1"
	require.NoError(t, s.InsertElement(ctx, Element{ID: "el_1", WorkspaceID: &wsID, Kind: KindText, Content: "hi"}))
	require.NoError(t, s.InsertElement(ctx, Element{ID: "el_2", PageID: &pageID, Kind: KindLink, LinkedPageID: &pageID, Position: 1}))

	require.NoError(t, s.InsertWorkspace(ctx, Workspace{ID: "ws_2", AuthorID: "usr_1", Title: "Other", Status: "not_started"}))
	require.NoError(t, s.InsertPage(ctx, Page{ID: "pg_x", WorkspaceID: "ws_2", Title: "X"}))
	foreign := "pg_x"
	err = s.InsertElement(ctx, Element{ID: "el_3", PageID: &pageID, Kind: KindLink, LinkedPageID: &foreign})
	assert.ErrorIs(t, err, ErrCrossWorkspaceLink)

	elements, err := s.ListElements(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "el_1", elements[0].ID)
	assert.Equal(t, "el_2", elements[1].ID)

	hits, err := s.SearchContent(ctx, "usr_1", "hi", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "text", hits[0].Kind)

	require.NoError(t, s.ClearWorkspaceContent(ctx, ws.ID))
	elements, err = s.ListElements(ctx, ws.ID)
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestPostgresWorkspaceRoundTrip(t *testing.T) {
	s, ctx := openTestStore(t)
	ws := seedWorkspace(t, ctx, s)

	assert.ErrorIs(t, s.InsertWorkspace(ctx, ws), ErrDuplicateTitle)

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ws.Status = "in_progress"
	ws.StartDate = &start
	require.NoError(t, s.UpdateWorkspace(ctx, ws))

	got, err := s.GetWorkspaceByTitle(ctx, "usr_1", "Trip")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status)
	assert.Equal(t, Tags{"travel"}, got.Tags)
	require.NotNil(t, got.StartDate)
	assert.Equal(t, "2024-05-01", got.StartDate.Format("2006-01-02"))

	user, err := s.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", user.ID)

	require.NoError(t, s.DeleteWorkspace(ctx, "usr_1", "Trip"))
	_, err = s.GetWorkspaceByTitle(ctx, "usr_1", "Trip")
	assert.ErrorIs(t, err, ErrNotFound)
}
