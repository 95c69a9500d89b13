package treesync

import (
	"context"
	"sort"
	"sync"

	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

// memStore mirrors the Postgres store's rules in memory. InTx restores the
// previous state when fn fails.
type memStore struct {
	mu         sync.Mutex
	workspaces []store.Workspace
	pages      []store.Page
	elements   []store.Element
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) InTx(ctx context.Context, fn func(Repo) error) error {
	m.mu.Lock()
	snapWs := append([]store.Workspace(nil), m.workspaces...)
	snapPages := append([]store.Page(nil), m.pages...)
	snapElements := append([]store.Element(nil), m.elements...)
	m.txCount++
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.workspaces, m.pages, m.elements = snapWs, snapPages, snapElements
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetWorkspaceByTitle(_ context.Context, authorID, title string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.workspaces {
		if ws.AuthorID == authorID && ws.Title == title {
			return ws, nil
		}
	}
	return store.Workspace{}, store.ErrNotFound
}

func (m *memStore) LockWorkspaceByTitle(ctx context.Context, authorID, title string) (store.Workspace, error) {
	return m.GetWorkspaceByTitle(ctx, authorID, title)
}

func (m *memStore) ListWorkspaces(_ context.Context, authorID string) ([]store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Workspace, 0)
	for _, ws := range m.workspaces {
		if ws.AuthorID == authorID {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (m *memStore) InsertWorkspace(_ context.Context, ws store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workspaces {
		if existing.AuthorID == ws.AuthorID && existing.Title == ws.Title {
			return store.ErrDuplicateTitle
		}
	}
	m.workspaces = append(m.workspaces, ws)
	return nil
}

func (m *memStore) UpdateWorkspace(_ context.Context, ws store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workspaces {
		if m.workspaces[i].ID == ws.ID {
			m.workspaces[i] = ws
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) ClearWorkspaceContent(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doomed := make(map[string]bool)
	pages := m.pages[:0:0]
	for _, p := range m.pages {
		if p.WorkspaceID == workspaceID {
			doomed[p.ID] = true
			continue
		}
		pages = append(pages, p)
	}
	m.pages = pages

	elements := m.elements[:0:0]
	for _, el := range m.elements {
		if (el.WorkspaceID != nil && *el.WorkspaceID == workspaceID) || (el.PageID != nil && doomed[*el.PageID]) {
			continue
		}
		elements = append(elements, el)
	}
	m.elements = elements
	return nil
}

func (m *memStore) InsertPage(_ context.Context, page store.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.IsMain {
		for i := range m.pages {
			if m.pages[i].WorkspaceID == page.WorkspaceID {
				m.pages[i].IsMain = false
			}
		}
	}
	m.pages = append(m.pages, page)
	return nil
}

func (m *memStore) ListPages(_ context.Context, workspaceID string) ([]store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Page, 0)
	for _, p := range m.pages {
		if p.WorkspaceID == workspaceID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) pageWorkspace(pageID string) (string, bool) {
	for _, p := range m.pages {
		if p.ID == pageID {
			return p.WorkspaceID, true
		}
	}
	return "", false
}

func (m *memStore) InsertElement(_ context.Context, el store.Element) error {
	if err := el.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el.Kind == store.KindLink && el.LinkedPageID != nil {
		owner := ""
		if el.WorkspaceID != nil {
			owner = *el.WorkspaceID
		} else if ws, ok := m.pageWorkspace(*el.PageID); ok {
			owner = ws
		}
		target, ok := m.pageWorkspace(*el.LinkedPageID)
		if !ok || target != owner {
			return store.ErrCrossWorkspaceLink
		}
	}
	m.elements = append(m.elements, el)
	return nil
}

func (m *memStore) ListElements(_ context.Context, workspaceID string) ([]store.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Element, 0)
	for _, el := range m.elements {
		if el.WorkspaceID != nil && *el.WorkspaceID == workspaceID {
			out = append(out, el)
			continue
		}
		if el.PageID != nil {
			if ws, ok := m.pageWorkspace(*el.PageID); ok && ws == workspaceID {
				out = append(out, el)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) mainPages(workspaceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.pages {
		if p.WorkspaceID == workspaceID && p.IsMain {
			count++
		}
	}
	return count
}

// memCache is an in-memory Cache.
type memCache struct {
	mu    sync.Mutex
	docs  map[string]map[string]document.Workspace
	links map[string]map[string]bool
}

func newMemCache() *memCache {
	return &memCache{
		docs:  make(map[string]map[string]document.Workspace),
		links: make(map[string]map[string]bool),
	}
}

func (c *memCache) List(_ context.Context, scope string) ([]document.Workspace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	titles := make([]string, 0, len(c.docs[scope]))
	for title := range c.docs[scope] {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	out := make([]document.Workspace, 0, len(titles))
	for _, title := range titles {
		out = append(out, c.docs[scope][title])
	}
	return out, nil
}

func (c *memCache) Put(_ context.Context, scope string, doc document.Workspace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.docs[scope] == nil {
		c.docs[scope] = make(map[string]document.Workspace)
	}
	c.docs[scope][doc.Title] = doc
	return nil
}

func (c *memCache) Clear(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, scope)
	return nil
}

func (c *memCache) Link(_ context.Context, guestScope, userScope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.links[userScope] == nil {
		c.links[userScope] = make(map[string]bool)
	}
	c.links[userScope][guestScope] = true
	return nil
}

func (c *memCache) Unlink(_ context.Context, guestScope, userScope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links[userScope], guestScope)
	return nil
}

func (c *memCache) Linked(_ context.Context, userScope string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0)
	for scope := range c.links[userScope] {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out, nil
}
