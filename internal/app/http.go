package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mindnote/api/internal/auth"
	"mindnote/api/internal/authpw"
	"mindnote/api/internal/document"
	"mindnote/api/internal/rbac"
	"mindnote/api/internal/treesync"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger.With().Str("component", "http").Logger()}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Post("/auth/signup", s.handleAuthSignUp)
		r.Post("/auth/signin", s.handleAuthSignIn)
		r.Get("/session", s.handleSession)

		r.Post("/guest/session", s.handleGuestSession)
		r.Get("/guest/workspaces", s.authorized(rbac.ActionGuestCache, s.handleGuestList))
		r.Put("/guest/workspaces", s.authorized(rbac.ActionGuestCache, s.handleGuestPut))
		r.Get("/guest/workspaces/{title}", s.authorized(rbac.ActionGuestCache, s.handleGuestGet))
		r.Delete("/guest/workspaces/{title}", s.authorized(rbac.ActionGuestCache, s.handleGuestDelete))

		r.Post("/migrate", s.authorized(rbac.ActionMigrate, s.handleMigrate))
		r.Post("/migrate/confirm", s.authorized(rbac.ActionMigrate, s.handleMigrateConfirm))
		r.Get("/cache/workspaces", s.authorized(rbac.ActionWrite, s.handleCacheList))
		r.Put("/cache/workspaces", s.authorized(rbac.ActionWrite, s.handleCachePut))
		r.Post("/logout", s.authorized(rbac.ActionLogout, s.handleLogout))

		r.Post("/sync", s.authorized(rbac.ActionWrite, s.handleSync))
		r.Post("/user-sync", s.authorized(rbac.ActionWrite, s.handleReconcile))
		r.Patch("/user-sync", s.authorized(rbac.ActionWrite, s.handleResolve))

		r.Get("/workspaces", s.authorized(rbac.ActionRead, s.handleWorkspaceList))
		r.Post("/workspaces", s.authorized(rbac.ActionWrite, s.handleWorkspaceCreate))
		r.Get("/workspaces/{title}", s.authorized(rbac.ActionRead, s.handleWorkspaceGet))
		r.Delete("/workspaces/{title}", s.authorized(rbac.ActionWrite, s.handleWorkspaceDelete))
		r.Get("/workspaces/{title}/pages", s.authorized(rbac.ActionRead, s.handlePageList))
		r.Post("/workspaces/{title}/pages", s.authorized(rbac.ActionWrite, s.handlePageCreate))
		r.Patch("/workspaces/{title}/pages/{pageID}", s.authorized(rbac.ActionWrite, s.handlePageRename))
		r.Delete("/workspaces/{title}/pages/{pageID}", s.authorized(rbac.ActionWrite, s.handlePageDelete))
		r.Get("/workspaces/{title}/history", s.authorized(rbac.ActionRead, s.handleHistory))
		r.Get("/workspaces/{title}/history/{hash}", s.authorized(rbac.ActionRead, s.handleHistoryContent))

		r.Post("/pages/{pageID}/elements", s.authorized(rbac.ActionWrite, s.handleElementAdd))
		r.Patch("/pages/{pageID}/elements/{elementID}", s.authorized(rbac.ActionWrite, s.handleElementUpdate))
		r.Delete("/pages/{pageID}/elements/{elementID}", s.authorized(rbac.ActionWrite, s.handleElementDelete))

		r.Get("/search", s.authorized(rbac.ActionRead, s.handleSearch))
	})
	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

// authorized requires a valid session whose role may perform action.
func (s *HTTPServer) authorized(action rbac.Action, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !s.service.Can(session.Role, action) {
			s.forbid(w, r, session, string(action))
			return
		}
		next(w, r, session)
	}
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action string) {
	s.log.Info().
		Str("request_id", requestID(r.Context())).
		Str("user_id", session.UserID).
		Str("role", session.Role).
		Str("action", action).
		Msg("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	// Check database connectivity
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleGuestSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GuestSession()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":    session.Token,
		"userId":   session.UserID,
		"userName": session.UserName,
		"role":     session.Role,
	}
}

func (s *HTTPServer) handleGuestList(w http.ResponseWriter, r *http.Request, session Session) {
	docs, err := s.service.ListGuestWorkspaces(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": docs})
}

func (s *HTTPServer) handleGuestGet(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.GetGuestWorkspace(r.Context(), session, pathParam(r, "title"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleGuestPut(w http.ResponseWriter, r *http.Request, session Session) {
	var doc document.Workspace
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.PutGuestWorkspace(r.Context(), session, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleGuestDelete(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteGuestWorkspace(r.Context(), session, pathParam(r, "title")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMigrate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		GuestToken string `json:"guestToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	migrated, err := s.service.Migrate(r.Context(), session, body.GuestToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "migrated": migrated})
}

func (s *HTTPServer) handleMigrateConfirm(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		GuestToken string `json:"guestToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ConfirmMigration(r.Context(), session, body.GuestToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCacheList(w http.ResponseWriter, r *http.Request, session Session) {
	docs, err := s.service.ListCachedWorkspaces(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": docs})
}

func (s *HTTPServer) handleCachePut(w http.ResponseWriter, r *http.Request, session Session) {
	var doc document.Workspace
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.PutCachedWorkspace(r.Context(), session, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, session Session) {
	flushed, err := s.service.Logout(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "flushed": flushed})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request, session Session) {
	var doc document.Workspace
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.Sync(r.Context(), session, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		LocalWorkspaces []document.Workspace `json:"local_workspaces"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Reconcile(r.Context(), session, body.LocalWorkspaces)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request, session Session) {
	var body treesync.ResolveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	docs, err := s.service.ApplyResolution(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": docs})
}

func (s *HTTPServer) handleWorkspaceList(w http.ResponseWriter, r *http.Request, session Session) {
	docs, err := s.service.ListWorkspaces(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": docs})
}

func (s *HTTPServer) handleWorkspaceCreate(w http.ResponseWriter, r *http.Request, session Session) {
	var doc document.Workspace
	if err := decodeBody(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.CreateWorkspace(r.Context(), session, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleWorkspaceGet(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.GetWorkspace(r.Context(), session, pathParam(r, "title"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleWorkspaceDelete(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteWorkspace(r.Context(), session, pathParam(r, "title")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePageList(w http.ResponseWriter, r *http.Request, session Session) {
	pages, err := s.service.ListRootPages(r.Context(), session, pathParam(r, "title"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *HTTPServer) handlePageCreate(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreatePageInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	page, err := s.service.CreatePage(r.Context(), session, pathParam(r, "title"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *HTTPServer) handlePageRename(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	page, err := s.service.RenamePage(r.Context(), session, pathParam(r, "title"), pathParam(r, "pageID"), body.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handlePageDelete(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeletePage(r.Context(), session, pathParam(r, "title"), pathParam(r, "pageID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	commits, err := s.service.History(r.Context(), session, pathParam(r, "title"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleHistoryContent(w http.ResponseWriter, r *http.Request, session Session) {
	doc, err := s.service.HistoryContent(r.Context(), session, pathParam(r, "title"), pathParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleElementAdd(w http.ResponseWriter, r *http.Request, session Session) {
	rec, ok := decodeElementBody(w, r)
	if !ok {
		return
	}
	out, err := s.service.AddElement(r.Context(), session, pathParam(r, "pageID"), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *HTTPServer) handleElementUpdate(w http.ResponseWriter, r *http.Request, session Session) {
	rec, ok := decodeElementBody(w, r)
	if !ok {
		return
	}
	out, err := s.service.UpdateElement(r.Context(), session, pathParam(r, "pageID"), pathParam(r, "elementID"), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleElementDelete(w http.ResponseWriter, r *http.Request, session Session) {
	elementType := strings.TrimSpace(r.URL.Query().Get("element_type"))
	if elementType == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "element_type is required", nil)
		return
	}
	if err := s.service.DeleteElement(r.Context(), session, pathParam(r, "pageID"), pathParam(r, "elementID"), elementType); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// decodeElementBody reads an element record whose kind is named by the
// required element_type field.
func decodeElementBody(w http.ResponseWriter, r *http.Request) (document.Element, bool) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return document.Element{}, false
	}
	var head struct {
		ElementType string `json:"element_type"`
	}
	var rec document.Element
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &head); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
			return document.Element{}, false
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
			return document.Element{}, false
		}
	}
	if strings.TrimSpace(head.ElementType) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "element_type is required", nil)
		return document.Element{}, false
	}
	rec.Type = strings.TrimSpace(head.ElementType)
	return rec, true
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), session, query, limit))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// pathParam returns a route parameter with percent-escapes removed. Titles
// are used as path segments and may contain spaces.
func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}
