package search

import (
	"context"

	"github.com/rs/zerolog"

	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili *Meili
	pg    *PgSearch
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgSearch, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pg: pg, log: logger.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	if s.pg == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexWorkspace indexes a committed workspace (fire-and-forget to Meilisearch).
func (s *Service) IndexWorkspace(ws store.Workspace, doc document.Workspace) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := RecordFor(ws, doc)
	go func() {
		if err := s.meili.IndexWorkspace(rec); err != nil {
			s.log.Error().Err(err).Str("workspace_id", rec.ID).Msg("index workspace")
		}
	}()
}

// DeleteWorkspace removes a workspace from the search index (fire-and-forget).
func (s *Service) DeleteWorkspace(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteWorkspace(id); err != nil {
			s.log.Error().Err(err).Str("workspace_id", id).Msg("delete workspace from index")
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
