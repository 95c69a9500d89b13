package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const pgUniqueViolation = "23505"

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Queries runs every statement against either the pool or one transaction.
type Queries struct {
	db dbtx
}

type PostgresStore struct {
	*Queries
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{Queries: &Queries{db: db}, db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside one transaction, committing when fn returns nil.
func (s *PostgresStore) InTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Users

func (q *Queries) CreateUser(ctx context.Context, user User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, LOWER($2), $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := q.db.GetContext(ctx, &user, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users WHERE email = LOWER($1)
	`, email)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := q.db.GetContext(ctx, &user, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users WHERE id = $1
	`, id)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// Workspaces

const workspaceColumns = `id, author_id, title, status, icon_key, banner_key, tags, info, start_date, end_date, created_at, updated_at`

func (q *Queries) InsertWorkspace(ctx context.Context, ws Workspace) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, author_id, title, status, icon_key, banner_key, tags, info, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ws.ID, ws.AuthorID, ws.Title, ws.Status, ws.IconKey, ws.BannerKey, ws.Tags, ws.Info, ws.StartDate, ws.EndDate)
	if isUniqueViolation(err) {
		return ErrDuplicateTitle
	}
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (q *Queries) UpdateWorkspace(ctx context.Context, ws Workspace) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE workspaces
		SET status=$2, icon_key=$3, banner_key=$4, tags=$5, info=$6, start_date=$7, end_date=$8, updated_at=NOW()
		WHERE id=$1
	`, ws.ID, ws.Status, ws.IconKey, ws.BannerKey, ws.Tags, ws.Info, ws.StartDate, ws.EndDate)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return requireRow(result)
}

func (q *Queries) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var ws Workspace
	if err := q.db.GetContext(ctx, &ws, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1`, id); err != nil {
		return Workspace{}, notFound(err)
	}
	return ws, nil
}

func (q *Queries) GetWorkspaceByTitle(ctx context.Context, authorID, title string) (Workspace, error) {
	var ws Workspace
	err := q.db.GetContext(ctx, &ws, `SELECT `+workspaceColumns+` FROM workspaces WHERE author_id=$1 AND title=$2`, authorID, title)
	if err != nil {
		return Workspace{}, notFound(err)
	}
	return ws, nil
}

// LockWorkspaceByTitle takes a row lock on the author's workspace so
// concurrent rebuilds and main page changes serialize. Outside a
// transaction the lock is released immediately.
func (q *Queries) LockWorkspaceByTitle(ctx context.Context, authorID, title string) (Workspace, error) {
	var ws Workspace
	err := q.db.GetContext(ctx, &ws, `SELECT `+workspaceColumns+` FROM workspaces WHERE author_id=$1 AND title=$2 FOR UPDATE`, authorID, title)
	if err != nil {
		return Workspace{}, notFound(err)
	}
	return ws, nil
}

func (q *Queries) LockWorkspace(ctx context.Context, id string) error {
	var locked string
	if err := q.db.GetContext(ctx, &locked, `SELECT id FROM workspaces WHERE id=$1 FOR UPDATE`, id); err != nil {
		return notFound(err)
	}
	return nil
}

func (q *Queries) ListWorkspaces(ctx context.Context, authorID string) ([]Workspace, error) {
	items := make([]Workspace, 0)
	err := q.db.SelectContext(ctx, &items, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE author_id=$1
		ORDER BY created_at, id
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return items, nil
}

func (q *Queries) DeleteWorkspace(ctx context.Context, authorID, title string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM workspaces WHERE author_id=$1 AND title=$2`, authorID, title)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireRow(result)
}

// ClearWorkspaceContent deletes every page and element of the workspace.
func (q *Queries) ClearWorkspaceContent(ctx context.Context, workspaceID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM elements WHERE workspace_id=$1`, workspaceID); err != nil {
		return fmt.Errorf("clear workspace elements: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pages WHERE workspace_id=$1`, workspaceID); err != nil {
		return fmt.Errorf("clear workspace pages: %w", err)
	}
	return nil
}

// Pages

const pageColumns = `id, workspace_id, parent_id, title, icon_key, is_main, position, created_at`

// InsertPage stores a page. A main page first demotes any existing main page
// of the workspace; callers run this inside InTx after LockWorkspace.
func (q *Queries) InsertPage(ctx context.Context, page Page) error {
	if page.IsMain {
		if _, err := q.db.ExecContext(ctx, `UPDATE pages SET is_main=FALSE WHERE workspace_id=$1 AND is_main`, page.WorkspaceID); err != nil {
			return fmt.Errorf("demote main page: %w", err)
		}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pages (id, workspace_id, parent_id, title, icon_key, is_main, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, page.ID, page.WorkspaceID, page.ParentID, page.Title, page.IconKey, page.IsMain, page.Position)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (q *Queries) GetPage(ctx context.Context, id string) (Page, error) {
	var page Page
	if err := q.db.GetContext(ctx, &page, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, id); err != nil {
		return Page{}, notFound(err)
	}
	return page, nil
}

func (q *Queries) ListPages(ctx context.Context, workspaceID string) ([]Page, error) {
	items := make([]Page, 0)
	err := q.db.SelectContext(ctx, &items, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE workspace_id=$1
		ORDER BY position, created_at, id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return items, nil
}

func (q *Queries) NextPagePosition(ctx context.Context, workspaceID string) (int, error) {
	var next int
	err := q.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM pages WHERE workspace_id=$1`, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("next page position: %w", err)
	}
	return next, nil
}

func (q *Queries) RenamePage(ctx context.Context, workspaceID, pageID, title string) error {
	page, err := q.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	if page.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if page.IsMain {
		return ErrProtectedPage
	}
	if _, err := q.db.ExecContext(ctx, `UPDATE pages SET title=$2 WHERE id=$1`, pageID, title); err != nil {
		return fmt.Errorf("rename page: %w", err)
	}
	return nil
}

// DeletePage removes a non-main page with its subpages and elements.
func (q *Queries) DeletePage(ctx context.Context, workspaceID, pageID string) error {
	page, err := q.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	if page.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if page.IsMain {
		return ErrProtectedPage
	}
	result, err := q.db.ExecContext(ctx, `DELETE FROM pages WHERE id=$1 AND NOT is_main`, pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return requireRow(result)
}

// Elements

const elementColumns = `id, workspace_id, page_id, kind, position, content, blob_key, file_name, label, checked, linked_page_id, created_at`

func (q *Queries) InsertElement(ctx context.Context, el Element) error {
	if err := el.Validate(); err != nil {
		return err
	}
	if err := q.checkLinkTarget(ctx, el); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO elements (id, workspace_id, page_id, kind, position, content, blob_key, file_name, label, checked, linked_page_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, el.ID, el.WorkspaceID, el.PageID, el.Kind, el.Position, el.Content, el.BlobKey, el.FileName, el.Label, el.Checked, el.LinkedPageID)
	if err != nil {
		return fmt.Errorf("insert element: %w", err)
	}
	return nil
}

func (q *Queries) checkLinkTarget(ctx context.Context, el Element) error {
	if el.Kind != KindLink || el.LinkedPageID == nil {
		return nil
	}
	owner := ""
	if el.WorkspaceID != nil {
		owner = *el.WorkspaceID
	} else {
		page, err := q.GetPage(ctx, *el.PageID)
		if err != nil {
			return err
		}
		owner = page.WorkspaceID
	}
	target, err := q.GetPage(ctx, *el.LinkedPageID)
	if errors.Is(err, ErrNotFound) {
		return ErrCrossWorkspaceLink
	}
	if err != nil {
		return err
	}
	if target.WorkspaceID != owner {
		return ErrCrossWorkspaceLink
	}
	return nil
}

// ListElements returns the top-level and page elements of a workspace.
func (q *Queries) ListElements(ctx context.Context, workspaceID string) ([]Element, error) {
	items := make([]Element, 0)
	err := q.db.SelectContext(ctx, &items, `
		SELECT `+elementColumns+`
		FROM elements
		WHERE workspace_id=$1
			OR page_id IN (SELECT id FROM pages WHERE workspace_id=$1)
		ORDER BY position, created_at, id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	return items, nil
}

func (q *Queries) NextElementPosition(ctx context.Context, pageID string) (int, error) {
	var next int
	err := q.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM elements WHERE page_id=$1`, pageID)
	if err != nil {
		return 0, fmt.Errorf("next element position: %w", err)
	}
	return next, nil
}

// GetPageElement loads an element of the given kind owned by pageID.
func (q *Queries) GetPageElement(ctx context.Context, pageID, elementID string, kind ElementKind) (Element, error) {
	var el Element
	err := q.db.GetContext(ctx, &el, `
		SELECT `+elementColumns+`
		FROM elements
		WHERE id=$1 AND page_id=$2 AND kind=$3
	`, elementID, pageID, kind)
	if err != nil {
		return Element{}, notFound(err)
	}
	return el, nil
}

func (q *Queries) UpdateElement(ctx context.Context, el Element) error {
	if err := el.Validate(); err != nil {
		return err
	}
	if err := q.checkLinkTarget(ctx, el); err != nil {
		return err
	}
	result, err := q.db.ExecContext(ctx, `
		UPDATE elements
		SET content=$3, blob_key=$4, file_name=$5, label=$6, checked=$7, linked_page_id=$8
		WHERE id=$1 AND page_id=$2
	`, el.ID, el.PageID, el.Content, el.BlobKey, el.FileName, el.Label, el.Checked, el.LinkedPageID)
	if err != nil {
		return fmt.Errorf("update element: %w", err)
	}
	return requireRow(result)
}

func (q *Queries) DeletePageElement(ctx context.Context, pageID, elementID string, kind ElementKind) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM elements WHERE id=$1 AND page_id=$2 AND kind=$3`, elementID, pageID, kind)
	if err != nil {
		return fmt.Errorf("delete element: %w", err)
	}
	return requireRow(result)
}

// Search

// SearchContent matches workspace titles, page titles and text elements of
// one author with a case-insensitive substring match.
func (q *Queries) SearchContent(ctx context.Context, authorID, text string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(text) + "%"
	hits := make([]SearchHit, 0)
	err := q.db.SelectContext(ctx, &hits, `
		SELECT kind, id, workspace_id, title, snippet FROM (
			SELECT 'workspace' AS kind, w.id, w.id AS workspace_id, w.title, w.info AS snippet, 0 AS rank
			FROM workspaces w
			WHERE w.author_id=$1 AND w.title ILIKE $2
			UNION ALL
			SELECT 'page', p.id, p.workspace_id, p.title, w.title, 1
			FROM pages p JOIN workspaces w ON w.id = p.workspace_id
			WHERE w.author_id=$1 AND p.title ILIKE $2
			UNION ALL
			SELECT 'text', e.id, w.id, COALESCE(p.title, w.title), LEFT(e.content, 160), 2
			FROM elements e
			LEFT JOIN pages p ON p.id = e.page_id
			JOIN workspaces w ON w.id = COALESCE(e.workspace_id, p.workspace_id)
			WHERE w.author_id=$1 AND e.kind='text' AND e.content ILIKE $2
		) hits
		ORDER BY rank, title
		LIMIT $3
	`, authorID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	return hits, nil
}

func escapeLike(value string) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
