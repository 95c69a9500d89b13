package search

import (
	"strings"

	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWorkspace ResultType = "workspace"
	ResultPage      ResultType = "page"
	ResultText      ResultType = "text"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request. Results are limited to AuthorID's
// workspaces.
type Query struct {
	Text     string
	AuthorID string
	Limit    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// WorkspaceRecord is the data we index for one workspace: its own fields
// plus every page title and text element below it.
type WorkspaceRecord struct {
	ID       string   `json:"id"`
	AuthorID string   `json:"authorId"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Info     string   `json:"info"`
	Tags     []string `json:"tags"`
	Pages    []string `json:"pages"`
	Texts    []string `json:"texts"`
}

// RecordFor flattens a serialized workspace into its search record.
func RecordFor(ws store.Workspace, doc document.Workspace) WorkspaceRecord {
	rec := WorkspaceRecord{
		ID:       ws.ID,
		AuthorID: ws.AuthorID,
		Title:    ws.Title,
		Status:   ws.Status,
		Info:     ws.Info,
		Tags:     append([]string{}, ws.Tags...),
		Pages:    []string{},
		Texts:    textsOf(nil, doc.Elements),
	}
	doc.WalkPages(func(p *document.Page, _ int) {
		rec.Pages = append(rec.Pages, p.Title)
		rec.Texts = textsOf(rec.Texts, p.Elements)
	})
	return rec
}

func textsOf(into []string, elements document.Elements) []string {
	if into == nil {
		into = []string{}
	}
	for _, el := range elements {
		switch el.Type {
		case document.TypeText:
			if strings.TrimSpace(el.Content) != "" {
				into = append(into, el.Content)
			}
		case document.TypeCheckbox:
			if strings.TrimSpace(el.Label) != "" {
				into = append(into, el.Label)
			}
		}
	}
	return into
}
