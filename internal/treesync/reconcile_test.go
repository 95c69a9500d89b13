package treesync

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindnote/api/internal/document"
)

func TestReconcileConflictScenario(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	_, err := e.Upsert(ctx, author, document.Workspace{Title: "Trip", Status: document.StatusCompleted})
	require.NoError(t, err)

	local := []document.Workspace{
		{Title: "Trip", Status: document.StatusInProgress},
		{Title: "Trip", Status: document.StatusNotStarted},
	}
	result, err := e.Reconcile(ctx, author, local)
	require.NoError(t, err)

	assert.Empty(t, result.New)
	assert.Empty(t, result.ServerOnly)
	require.Len(t, result.Conflicts, 2)
	for _, c := range result.Conflicts {
		assert.Equal(t, "Trip", c.Title)
		assert.Equal(t, document.StatusCompleted, c.Server.Status)
	}
	assert.Equal(t, document.StatusInProgress, result.Conflicts[0].Local.Status)
	assert.Equal(t, document.StatusNotStarted, result.Conflicts[1].Local.Status)
}

func TestReconcileAfterSyncReportsNoConflict(t *testing.T) {
	unpadded := base64.RawStdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake-image!"))
	tests := []struct {
		name string
		opts Options
		raw  string
	}{
		{"timestamp dates", Options{}, `{"title":"W","start_date":"2024-06-01T10:30:00Z","end_date":"2024-06-03T00:00:00+00:00"}`},
		{"untrimmed page title", Options{}, `{"title":"W","pages":[{"title":"  Spaced  "}]}`},
		{"untitled page", Options{}, `{"title":"W","pages":[{"title":" "},{"title":"Kept"}]}`},
		{"unpadded base64", Options{}, `{"title":"W","icon":"` + unpadded + `","elements":[{"type":"image","image":"` + unpadded + `"}]}`},
		{"unknown element type", Options{}, `{"title":"W","elements":[{"type":"video","content":"x"},{"type":"text","content":"y"}]}`},
		{"unresolved link", Options{}, `{"title":"W","elements":[{"type":"link","linked_page":"Nowhere"},{"type":"link","linked_page":" P "}],"pages":[{"title":"P"}]}`},
		{"two main pages", Options{}, `{"title":"W","pages":[{"title":"A","is_main":true},{"title":"B","is_main":true}]}`},
		{"main page layout", Options{MainPageLayout: true}, `{"title":"W","elements":[{"type":"text","content":"top"}],"pages":[{"title":"P","is_main":true}]}`},
		{"beyond max depth", Options{MaxTreeDepth: 1}, `{"title":"W","pages":[{"title":"L1","pages":[{"title":"L2"}]}]}`},
		{"fields by kind", Options{}, `{"title":"W","elements":[{"type":"checkbox","label":"done","checked":true,"content":"stray"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, tt.opts)
			ctx := context.Background()
			doc := decodeDoc(t, tt.raw)
			_, err := e.Upsert(ctx, author, doc)
			require.NoError(t, err)

			result, err := e.Reconcile(ctx, author, []document.Workspace{doc})
			require.NoError(t, err)
			assert.Empty(t, result.Conflicts)
			assert.Empty(t, result.New)
			assert.Empty(t, result.ServerOnly)
		})
	}
}

func TestReconcilePartitionsAndIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	for _, title := range []string{"Same", "Server", "Changed"} {
		_, err := e.Upsert(ctx, author, decodeDoc(t, `{"title":"`+title+`","pages":[{"title":"P","elements":{"images":[{"image":"`+pngB64+`"}]}}]}`))
		require.NoError(t, err)
	}

	local := []document.Workspace{
		decodeDoc(t, `{"title":"Zeta"}`),
		decodeDoc(t, `{"title":"Alpha"}`),
		decodeDoc(t, `{"title":"Alpha"}`),
		decodeDoc(t, `{"title":"Same","status":"not_started","pages":[{"title":"P","elements":[{"type":"ImageItem","imagePath":"data:image/png;base64,`+pngB64+`"}]}]}`),
		decodeDoc(t, `{"title":"Changed","pages":[{"title":"Q"}]}`),
	}

	first, err := e.Reconcile(ctx, author, local)
	require.NoError(t, err)

	require.Len(t, first.New, 2)
	assert.Equal(t, "Alpha", first.New[0].Title)
	assert.Equal(t, "Zeta", first.New[1].Title)
	require.Len(t, first.Conflicts, 1)
	assert.Equal(t, "Changed", first.Conflicts[0].Title)
	require.Len(t, first.ServerOnly, 1)
	assert.Equal(t, "Server", first.ServerOnly[0].Title)

	second, err := e.Reconcile(ctx, author, local)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApplyResolution(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	_, err := e.Upsert(ctx, author, document.Workspace{Title: "A", Status: document.StatusCompleted})
	require.NoError(t, err)
	_, err = e.Upsert(ctx, author, document.Workspace{Title: "B", Info: "server"})
	require.NoError(t, err)

	out, err := e.ApplyResolution(ctx, author, ResolveRequest{
		Resolve: []Resolution{
			{Title: "A", Use: UseLocal, Data: document.Workspace{Status: document.StatusInProgress}},
			{Title: "B", Use: UseServer, Data: document.Workspace{Title: "B", Info: "local"}},
		},
		New: []document.Workspace{{Title: "C"}, {Title: "A", Info: "ignored"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	byTitle := make(map[string]document.Workspace)
	for _, doc := range out {
		byTitle[doc.Title] = doc
	}
	assert.Equal(t, document.StatusInProgress, byTitle["A"].Status)
	assert.Empty(t, byTitle["A"].Info)
	assert.Equal(t, "server", byTitle["B"].Info)
	assert.Contains(t, byTitle, "C")
}

func TestApplyResolutionRejectsUnknownChoice(t *testing.T) {
	e, s, _ := newTestEngine(t, Options{})
	_, err := e.ApplyResolution(context.Background(), author, ResolveRequest{
		Resolve: []Resolution{{Title: "A", Use: "mine"}},
	})
	assert.ErrorIs(t, err, ErrInvalidResolution)
	assert.Zero(t, s.txCount)
}

func TestApplyResolutionIsAtomic(t *testing.T) {
	e, s, _ := newTestEngine(t, Options{})
	_, err := e.ApplyResolution(context.Background(), author, ResolveRequest{
		New: []document.Workspace{{Title: "Good"}, {Title: "Bad", Status: "bogus"}},
	})
	assert.ErrorIs(t, err, document.ErrInvalidDocument)
	assert.Empty(t, s.workspaces)
}
