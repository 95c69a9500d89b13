package treesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/store"
	"mindnote/api/internal/util"
)

// Serialize renders a stored workspace as a document.
func (e *Engine) Serialize(ctx context.Context, ws store.Workspace) (document.Workspace, error) {
	return e.serializeWith(ctx, e.store, ws)
}

func (e *Engine) serializeWith(ctx context.Context, r Repo, ws store.Workspace) (document.Workspace, error) {
	t, err := loadTree(ctx, r, ws.ID)
	if err != nil {
		return document.Workspace{}, fmt.Errorf("load workspace %s: %w", ws.ID, err)
	}

	doc := document.Workspace{
		Title:     ws.Title,
		Status:    ws.Status,
		Icon:      e.codec.EncodeIcon(ctx, ws.IconKey),
		Banner:    e.codec.EncodeIcon(ctx, ws.BannerKey),
		Tags:      append([]string(nil), ws.Tags...),
		Info:      ws.Info,
		StartDate: document.FormatDate(ws.StartDate),
		EndDate:   document.FormatDate(ws.EndDate),
		Elements:  e.encodeElements(ctx, t.elements[ws.ID], t.titles),
		Pages:     make([]*document.Page, 0),
	}

	roots := t.children[""]
	if e.opts.MainPageLayout {
		if main, ok := findMain(roots); ok {
			doc.Elements = append(doc.Elements, e.encodeElements(ctx, t.elements[main.ID], t.titles)...)
			flattened := append([]store.Page(nil), t.children[main.ID]...)
			for _, p := range roots {
				if p.ID != main.ID {
					flattened = append(flattened, p)
				}
			}
			roots = flattened
		}
	}
	e.serializePages(ctx, t, roots, &doc.Pages)
	return doc, nil
}

func findMain(pages []store.Page) (store.Page, bool) {
	for _, p := range pages {
		if p.IsMain {
			return p, true
		}
	}
	return store.Page{}, false
}

// Current serializes the stored state of ws. It fails with
// store.ErrNotFound once ws is deleted, even when another workspace has
// taken its title since.
func (e *Engine) Current(ctx context.Context, ws store.Workspace) (document.Workspace, error) {
	fresh, err := e.store.GetWorkspaceByTitle(ctx, ws.AuthorID, ws.Title)
	if err != nil {
		return document.Workspace{}, err
	}
	if fresh.ID != ws.ID {
		return document.Workspace{}, store.ErrNotFound
	}
	return e.Serialize(ctx, fresh)
}

// Get serializes the author's workspace with the given title.
func (e *Engine) Get(ctx context.Context, authorID, title string) (document.Workspace, error) {
	ws, err := e.store.GetWorkspaceByTitle(ctx, authorID, title)
	if err != nil {
		return document.Workspace{}, err
	}
	return e.Serialize(ctx, ws)
}

// SerializeAll renders every workspace of the author in creation order.
func (e *Engine) SerializeAll(ctx context.Context, authorID string) ([]document.Workspace, error) {
	return e.serializeAllWith(ctx, e.store, authorID)
}

func (e *Engine) serializeAllWith(ctx context.Context, r Repo, authorID string) ([]document.Workspace, error) {
	items, err := r.ListWorkspaces(ctx, authorID)
	if err != nil {
		return nil, err
	}
	out := make([]document.Workspace, 0, len(items))
	for _, ws := range items {
		doc, err := e.serializeWith(ctx, r, ws)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// CreateWorkspace stores a new, empty workspace from the document's own
// fields. Pages and elements in doc are ignored.
func (e *Engine) CreateWorkspace(ctx context.Context, authorID string, doc document.Workspace) (document.Workspace, error) {
	if err := doc.Validate(); err != nil {
		return document.Workspace{}, err
	}
	var ws store.Workspace
	err := e.store.InTx(ctx, func(r Repo) error {
		var err error
		ws, err = e.newWorkspace(ctx, authorID, doc)
		if err != nil {
			return err
		}
		if err := r.InsertWorkspace(ctx, ws); err != nil {
			return err
		}
		_, err = e.ensureMainPage(ctx, r, ws)
		return err
	})
	if err != nil {
		return document.Workspace{}, err
	}
	e.committed(ctx, []store.Workspace{ws})
	return e.Serialize(ctx, ws)
}

// Upsert stores doc as the author's workspace of the same title. An
// existing workspace has its fields updated and its whole content replaced.
// Everything happens in one transaction; blobs the old content alone
// referenced are deleted once it commits.
func (e *Engine) Upsert(ctx context.Context, authorID string, doc document.Workspace) (document.Workspace, error) {
	var (
		saved   store.Workspace
		orphans []string
	)
	err := e.store.InTx(ctx, func(r Repo) error {
		var err error
		saved, orphans, err = e.upsertWith(ctx, r, authorID, doc)
		return err
	})
	if err != nil {
		return document.Workspace{}, err
	}
	e.codec.DeleteBlobs(ctx, orphans)
	e.committed(ctx, []store.Workspace{saved})
	return e.Serialize(ctx, saved)
}

// Deserialize creates a new workspace from doc and returns the stored row.
// The caller owns the transaction.
func (e *Engine) Deserialize(ctx context.Context, r Repo, authorID string, doc document.Workspace) (store.Workspace, error) {
	if err := doc.Validate(); err != nil {
		return store.Workspace{}, err
	}
	ws, err := e.newWorkspace(ctx, authorID, doc)
	if err != nil {
		return store.Workspace{}, err
	}
	if err := r.InsertWorkspace(ctx, ws); err != nil {
		return store.Workspace{}, err
	}
	if err := e.buildContent(ctx, r, ws, doc, nil); err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

// upsertWith replaces the content of the author's workspace titled like doc,
// or creates it. It returns the blob keys only the replaced content used.
func (e *Engine) upsertWith(ctx context.Context, r Repo, authorID string, doc document.Workspace) (store.Workspace, []string, error) {
	if err := doc.Validate(); err != nil {
		return store.Workspace{}, nil, err
	}
	title := strings.TrimSpace(doc.Title)

	existing, err := r.LockWorkspaceByTitle(ctx, authorID, title)
	if errors.Is(err, store.ErrNotFound) {
		ws, err := e.Deserialize(ctx, r, authorID, doc)
		return ws, nil, err
	}
	if err != nil {
		return store.Workspace{}, nil, err
	}

	before, err := e.blobRefs(ctx, r, existing)
	if err != nil {
		return store.Workspace{}, nil, err
	}
	ws, err := e.applyFields(ctx, existing, doc, before)
	if err != nil {
		return store.Workspace{}, nil, err
	}
	if err := r.ClearWorkspaceContent(ctx, ws.ID); err != nil {
		return store.Workspace{}, nil, err
	}
	if err := r.UpdateWorkspace(ctx, ws); err != nil {
		return store.Workspace{}, nil, err
	}
	if err := e.buildContent(ctx, r, ws, doc, before); err != nil {
		return store.Workspace{}, nil, err
	}
	after, err := e.blobRefs(ctx, r, ws)
	if err != nil {
		return store.Workspace{}, nil, err
	}
	var orphans []string
	for key := range before {
		if !after[key] {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	return ws, orphans, nil
}

// blobRefs returns every blob key the stored workspace references.
func (e *Engine) blobRefs(ctx context.Context, r Repo, ws store.Workspace) (map[string]bool, error) {
	pages, err := r.ListPages(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	elements, err := r.ListElements(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	content := store.WorkspaceContent{Pages: pages, Elements: elements}
	return content.BlobKeys(ws.IconKey, ws.BannerKey), nil
}

func (e *Engine) newWorkspace(ctx context.Context, authorID string, doc document.Workspace) (store.Workspace, error) {
	ws := store.Workspace{
		ID:       util.NewID("ws"),
		AuthorID: authorID,
		Title:    strings.TrimSpace(doc.Title),
	}
	return e.applyFields(ctx, ws, doc, nil)
}

// applyFields copies the workspace-level document fields onto ws. refs are
// the blob keys the workspace referenced before.
func (e *Engine) applyFields(ctx context.Context, ws store.Workspace, doc document.Workspace, refs map[string]bool) (store.Workspace, error) {
	start, end, err := doc.ParseDates()
	if err != nil {
		return store.Workspace{}, err
	}
	ws.Status = doc.StatusOrDefault()
	ws.Tags = store.Tags(doc.Tags)
	ws.Info = doc.Info
	ws.StartDate = start
	ws.EndDate = end

	owner := element.Container{WorkspaceID: ws.ID, Title: ws.Title, Refs: refs}
	if ws.IconKey, err = e.decodeWorkspaceImage(ctx, doc.Icon, "icons", owner); err != nil {
		return store.Workspace{}, err
	}
	if ws.BannerKey, err = e.decodeWorkspaceImage(ctx, doc.Banner, "banners", owner); err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

func (e *Engine) decodeWorkspaceImage(ctx context.Context, value, folder string, owner element.Container) (string, error) {
	key, err := e.codec.DecodeIcon(ctx, value, folder, owner)
	var invalid *element.InvalidEncodingError
	if errors.As(err, &invalid) {
		e.log.Warn().Err(err).Str("workspace_id", owner.WorkspaceID).Str("field", folder).Msg("workspace image has invalid binary data, stored empty")
		return "", nil
	}
	return key, err
}

// ensureMainPage creates the workspace's main page when the main page
// layout is enabled and none exists. It returns the main page id, or ""
// when the layout is disabled.
func (e *Engine) ensureMainPage(ctx context.Context, r Repo, ws store.Workspace) (string, error) {
	if !e.opts.MainPageLayout {
		return "", nil
	}
	pages, err := r.ListPages(ctx, ws.ID)
	if err != nil {
		return "", err
	}
	if main, ok := findMain(pages); ok {
		return main.ID, nil
	}
	main := store.Page{
		ID:          util.NewID("pg"),
		WorkspaceID: ws.ID,
		Title:       ws.Title,
		IsMain:      true,
		Position:    len(pages),
	}
	if err := r.InsertPage(ctx, main); err != nil {
		return "", fmt.Errorf("create main page: %w", err)
	}
	return main.ID, nil
}

// buildContent stores the document's elements and page tree below a
// workspace that has no content yet. refs are the blob keys the workspace
// referenced before, which the document may point at again.
func (e *Engine) buildContent(ctx context.Context, r Repo, ws store.Workspace, doc document.Workspace, refs map[string]bool) error {
	mainID, err := e.ensureMainPage(ctx, r, ws)
	if err != nil {
		return err
	}

	b := newBuilder(e, r, ws, refs, 1)
	owner := element.Container{WorkspaceID: ws.ID, Title: ws.Title, Refs: refs}
	var parentID *string
	if mainID != "" {
		owner = element.Container{PageID: mainID, Title: ws.Title, Refs: refs}
		parentID = &mainID
		b.notePage(mainID, ws.Title)
	}

	if err := b.buildElements(ctx, doc.Elements, owner); err != nil {
		return err
	}
	if err := b.buildPages(ctx, doc.Pages, parentID); err != nil {
		return err
	}
	if err := b.resolveLinks(ctx); err != nil {
		return err
	}

	e.log.Debug().
		Str("workspace_id", ws.ID).
		Int("pages", b.stats.pages).
		Int("elements", b.stats.elements).
		Int("skipped", b.stats.skipped).
		Msg("workspace content built")
	return nil
}
