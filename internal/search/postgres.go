package search

import (
	"context"
	"strings"

	"mindnote/api/internal/store"
)

// ContentSearcher is the Postgres query the fallback runs.
type ContentSearcher interface {
	SearchContent(ctx context.Context, authorID, text string, limit int) ([]store.SearchHit, error)
}

// PgSearch searches Postgres directly with trigram-indexed ILIKE matches.
type PgSearch struct {
	db ContentSearcher
}

func NewPgSearch(db ContentSearcher) *PgSearch {
	return &PgSearch{db: db}
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	hits, err := p.db.SearchContent(ctx, q.AuthorID, strings.TrimSpace(q.Text), q.Limit)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Type:        ResultType(hit.Kind),
			ID:          hit.ID,
			Title:       hit.Title,
			Snippet:     hit.Snippet,
			WorkspaceID: hit.WorkspaceID,
		})
	}
	return results, len(results), nil
}
