package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mindnote/api/internal/auth"
	"mindnote/api/internal/authpw"
	"mindnote/api/internal/config"
	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/history"
	"mindnote/api/internal/rbac"
	"mindnote/api/internal/search"
	"mindnote/api/internal/store"
	"mindnote/api/internal/treesync"
	"mindnote/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

func (s Session) IsGuest() bool {
	return s.Role == auth.RoleGuest
}

// contentStore is the part of the store page and element edits run
// against, inside a transaction.
type contentStore interface {
	GetWorkspace(context.Context, string) (store.Workspace, error)
	GetWorkspaceByTitle(context.Context, string, string) (store.Workspace, error)
	LockWorkspace(context.Context, string) error
	GetPage(context.Context, string) (store.Page, error)
	ListPages(context.Context, string) ([]store.Page, error)
	ListElements(context.Context, string) ([]store.Element, error)
	NextPagePosition(context.Context, string) (int, error)
	InsertPage(context.Context, store.Page) error
	RenamePage(context.Context, string, string, string) error
	DeletePage(context.Context, string, string) error
	NextElementPosition(context.Context, string) (int, error)
	InsertElement(context.Context, store.Element) error
	GetPageElement(context.Context, string, string, store.ElementKind) (store.Element, error)
	UpdateElement(context.Context, store.Element) error
	DeletePageElement(context.Context, string, string, store.ElementKind) error
}

type dataStore interface {
	contentStore
	authpw.UserStore
	GetUserByID(context.Context, string) (store.User, error)
	DeleteWorkspace(context.Context, string, string) error
	InTx(context.Context, func(contentStore) error) error
	Ping(ctx context.Context) error
}

// docCache is the Redis-backed guest and user document cache plus the
// revoked-token list.
type docCache interface {
	List(context.Context, string) ([]document.Workspace, error)
	Get(context.Context, string, string) (document.Workspace, error)
	Put(context.Context, string, document.Workspace) error
	Delete(context.Context, string, string) error
	Revoke(context.Context, string, time.Time) error
	IsRevoked(context.Context, string) (bool, error)
}

type syncEngine interface {
	Get(context.Context, string, string) (document.Workspace, error)
	SerializeAll(context.Context, string) ([]document.Workspace, error)
	CreateWorkspace(context.Context, string, document.Workspace) (document.Workspace, error)
	Upsert(context.Context, string, document.Workspace) (document.Workspace, error)
	Reconcile(context.Context, string, []document.Workspace) (treesync.ReconcileResult, error)
	ApplyResolution(context.Context, string, treesync.ResolveRequest) ([]document.Workspace, error)
}

type migrator interface {
	Migrate(context.Context, string, string) (int, error)
	Confirm(context.Context, string, string) error
	Flush(context.Context, string) (int, error)
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	DeleteWorkspace(string)
}

type historyService interface {
	History(string, int) ([]history.Commit, error)
	Content(string, string) (document.Workspace, error)
	Remove(string) error
}

// Deps groups the collaborators a Service needs. Search and History may be
// nil.
type Deps struct {
	Store    dataStore
	Cache    docCache
	Engine   syncEngine
	Migrator migrator
	Codec    *element.Codec
	Search   searchService
	History  historyService
	// Changed runs after a page or element edit has committed.
	Changed func(ctx context.Context, ws store.Workspace, doc document.Workspace)
}

type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	store    dataStore
	cache    docCache
	engine   syncEngine
	migrator migrator
	codec    *element.Codec
	search   searchService
	history  historyService
	changed  func(ctx context.Context, ws store.Workspace, doc document.Workspace)
	authpw   *authpw.Service
}

func New(cfg config.Config, logger zerolog.Logger, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		log:      logger.With().Str("component", "app").Logger(),
		store:    deps.Store,
		cache:    deps.Cache,
		engine:   deps.Engine,
		migrator: deps.Migrator,
		codec:    deps.Codec,
		search:   deps.Search,
		history:  deps.History,
		changed:  deps.Changed,
		authpw:   authpw.NewService(deps.Store),
	}
}

// PostgresData adapts the Postgres store to the transaction shape the
// service uses.
type PostgresData struct {
	*store.PostgresStore
}

func FromPostgres(s *store.PostgresStore) PostgresData {
	return PostgresData{s}
}

func (p PostgresData) InTx(ctx context.Context, fn func(contentStore) error) error {
	return p.PostgresStore.InTx(ctx, func(q *store.Queries) error {
		return fn(q)
	})
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user.ID, user.DisplayName, auth.RoleUser, s.cfg.AccessTTL)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user.ID, user.DisplayName, auth.RoleUser, s.cfg.AccessTTL)
}

// GuestSession issues a token for a new anonymous guest.
func (s *Service) GuestSession() (Session, error) {
	return s.issueSession(util.NewID("gst"), "Guest", auth.RoleGuest, s.cfg.GuestTTL)
}

func (s *Service) issueSession(subject, name, role string, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiresAt := time.Now().Add(ttl)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  subject,
		Name: name,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    subject,
		UserName:  name,
		Role:      role,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.cache.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	sess := Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}
	if claims.IsGuest() {
		return sess, nil
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	sess.UserName = user.DisplayName
	return sess, nil
}

// guestFromToken parses a token that must belong to a guest.
func (s *Service) guestFromToken(ctx context.Context, token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, validationError("guestToken is required")
	}
	guest, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !guest.IsGuest() {
		return Session{}, validationError("guestToken is not a guest token")
	}
	return guest, nil
}

// Logout writes the user's cached workspaces to the server, clears the
// caches and revokes the access token.
func (s *Service) Logout(ctx context.Context, sess Session) (int, error) {
	flushed := 0
	if !sess.IsGuest() {
		n, err := s.migrator.Flush(ctx, sess.UserID)
		if err != nil {
			return n, err
		}
		flushed = n
	}
	if sess.JTI != "" {
		if err := s.cache.Revoke(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			return flushed, err
		}
	}
	s.log.Info().Str("user_id", sess.UserID).Int("flushed", flushed).Msg("logout")
	return flushed, nil
}

func (s *Service) ListGuestWorkspaces(ctx context.Context, sess Session) ([]document.Workspace, error) {
	return s.cache.List(ctx, treesync.GuestScope(sess.UserID))
}

// GetGuestWorkspace returns one cached guest document by title.
func (s *Service) GetGuestWorkspace(ctx context.Context, sess Session, title string) (document.Workspace, error) {
	return s.cache.Get(ctx, treesync.GuestScope(sess.UserID), title)
}

func (s *Service) PutGuestWorkspace(ctx context.Context, sess Session, doc document.Workspace) (document.Workspace, error) {
	return s.putCached(ctx, treesync.GuestScope(sess.UserID), doc)
}

func (s *Service) DeleteGuestWorkspace(ctx context.Context, sess Session, title string) error {
	return s.cache.Delete(ctx, treesync.GuestScope(sess.UserID), title)
}

func (s *Service) ListCachedWorkspaces(ctx context.Context, sess Session) ([]document.Workspace, error) {
	return s.cache.List(ctx, treesync.UserScope(sess.UserID))
}

func (s *Service) PutCachedWorkspace(ctx context.Context, sess Session, doc document.Workspace) (document.Workspace, error) {
	return s.putCached(ctx, treesync.UserScope(sess.UserID), doc)
}

func (s *Service) putCached(ctx context.Context, scope string, doc document.Workspace) (document.Workspace, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	if err := doc.Validate(); err != nil {
		return document.Workspace{}, err
	}
	if err := s.cache.Put(ctx, scope, doc); err != nil {
		return document.Workspace{}, err
	}
	return doc, nil
}

func (s *Service) Migrate(ctx context.Context, sess Session, guestToken string) (int, error) {
	guest, err := s.guestFromToken(ctx, guestToken)
	if err != nil {
		return 0, err
	}
	return s.migrator.Migrate(ctx, guest.UserID, sess.UserID)
}

func (s *Service) ConfirmMigration(ctx context.Context, sess Session, guestToken string) error {
	guest, err := s.guestFromToken(ctx, guestToken)
	if err != nil {
		return err
	}
	return s.migrator.Confirm(ctx, guest.UserID, sess.UserID)
}

func (s *Service) Sync(ctx context.Context, sess Session, doc document.Workspace) (document.Workspace, error) {
	return s.engine.Upsert(ctx, sess.UserID, doc)
}

func (s *Service) Reconcile(ctx context.Context, sess Session, local []document.Workspace) (treesync.ReconcileResult, error) {
	return s.engine.Reconcile(ctx, sess.UserID, local)
}

func (s *Service) ApplyResolution(ctx context.Context, sess Session, req treesync.ResolveRequest) ([]document.Workspace, error) {
	return s.engine.ApplyResolution(ctx, sess.UserID, req)
}

func (s *Service) ListWorkspaces(ctx context.Context, sess Session) ([]document.Workspace, error) {
	return s.engine.SerializeAll(ctx, sess.UserID)
}

func (s *Service) GetWorkspace(ctx context.Context, sess Session, title string) (document.Workspace, error) {
	return s.engine.Get(ctx, sess.UserID, title)
}

func (s *Service) CreateWorkspace(ctx context.Context, sess Session, doc document.Workspace) (document.Workspace, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	return s.engine.CreateWorkspace(ctx, sess.UserID, doc)
}

func (s *Service) DeleteWorkspace(ctx context.Context, sess Session, title string) error {
	ws, err := s.store.GetWorkspaceByTitle(ctx, sess.UserID, title)
	if err != nil {
		return err
	}
	content, err := workspaceContent(ctx, s.store, ws)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, sess.UserID, title); err != nil {
		return err
	}
	s.codec.DeleteBlobs(ctx, orphaned(content.BlobKeys(ws.IconKey, ws.BannerKey), nil))
	if s.search != nil {
		s.search.DeleteWorkspace(ws.ID)
	}
	if s.history != nil {
		if err := s.history.Remove(ws.ID); err != nil {
			s.log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("remove workspace history")
		}
	}
	return nil
}

func (s *Service) History(ctx context.Context, sess Session, title string, limit int) ([]history.Commit, error) {
	if s.history == nil {
		return []history.Commit{}, nil
	}
	ws, err := s.store.GetWorkspaceByTitle(ctx, sess.UserID, title)
	if err != nil {
		return nil, err
	}
	return s.history.History(ws.ID, limit)
}

func (s *Service) HistoryContent(ctx context.Context, sess Session, title, hash string) (document.Workspace, error) {
	if s.history == nil {
		return document.Workspace{}, store.ErrNotFound
	}
	ws, err := s.store.GetWorkspaceByTitle(ctx, sess.UserID, title)
	if err != nil {
		return document.Workspace{}, err
	}
	doc, err := s.history.Content(ws.ID, hash)
	if err != nil {
		return document.Workspace{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("version %s not found", hash), nil)
	}
	return doc, nil
}

func (s *Service) Search(ctx context.Context, sess Session, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, AuthorID: sess.UserID, Limit: limit})
}
