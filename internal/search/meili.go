package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxWorkspaces = "mindnote_workspaces"

// Meili indexes one record per workspace in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. The
// client starts unhealthy when the first health check fails and recovers in
// the background.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    logger.With().Str("component", "meilisearch").Logger(),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxWorkspaces,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxWorkspaces)
	filterable := []interface{}{"authorId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"title", "pages", "texts", "info", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxWorkspaces,
			Query:                 q.Text,
			Limit:                 limit,
			Filter:                fmt.Sprintf("authorId = %q", q.AuthorID),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{Type: ResultWorkspace}
	r.ID = decodeString(hit, "id")
	r.WorkspaceID = r.ID

	formatted := decodeFormatted(hit)
	r.Title = firstNonBlank(formattedString(formatted, "title"), decodeString(hit, "title"))
	r.Snippet = firstNonBlank(
		markedEntry(formatted, "texts"),
		markedEntry(formatted, "pages"),
		formattedString(formatted, "info"),
	)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormatted(hit meili.Hit) map[string]json.RawMessage {
	raw, ok := hit["_formatted"]
	if !ok {
		return nil
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return nil
	}
	return formatted
}

func formattedString(formatted map[string]json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// markedEntry returns the first highlighted entry of a list attribute.
func markedEntry(formatted map[string]json.RawMessage, key string) string {
	var entries []string
	if err := json.Unmarshal(formatted[key], &entries); err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.Contains(entry, "<mark>") {
			return entry
		}
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexWorkspace adds or replaces a workspace record.
func (m *Meili) IndexWorkspace(rec WorkspaceRecord) error {
	_, err := m.client.Index(idxWorkspaces).AddDocuments([]WorkspaceRecord{rec}, nil)
	return err
}

// DeleteWorkspace removes a workspace record.
func (m *Meili) DeleteWorkspace(id string) error {
	_, err := m.client.Index(idxWorkspaces).DeleteDocument(id, nil)
	return err
}
