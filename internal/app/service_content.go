package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/store"
	"mindnote/api/internal/treesync"
	"mindnote/api/internal/util"
)

type CreatePageInput struct {
	Title    string `json:"title"`
	ParentID string `json:"parent_id"`
	Icon     string `json:"icon"`
}

type PageView struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	ParentID    *string `json:"parent_id"`
	Title       string  `json:"title"`
	IsMain      bool    `json:"is_main"`
	Position    int     `json:"position"`
}

func pageView(p store.Page) PageView {
	return PageView{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		ParentID:    p.ParentID,
		Title:       p.Title,
		IsMain:      p.IsMain,
		Position:    p.Position,
	}
}

// ListRootPages returns the top-level pages of a workspace document.
func (s *Service) ListRootPages(ctx context.Context, sess Session, title string) ([]*document.Page, error) {
	doc, err := s.engine.Get(ctx, sess.UserID, title)
	if err != nil {
		return nil, err
	}
	return doc.Pages, nil
}

// CreatePage adds an empty page to the workspace, under ParentID when set.
// Pages created here are never the main page.
func (s *Service) CreatePage(ctx context.Context, sess Session, workspaceTitle string, input CreatePageInput) (PageView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return PageView{}, validationError("title is required")
	}

	var (
		ws   store.Workspace
		page store.Page
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var err error
		ws, err = s.lockWorkspace(ctx, tx, sess.UserID, workspaceTitle)
		if err != nil {
			return err
		}

		content, err := workspaceContent(ctx, tx, ws)
		if err != nil {
			return err
		}
		page = store.Page{ID: util.NewID("pg"), WorkspaceID: ws.ID, Title: title}
		if parentID := strings.TrimSpace(input.ParentID); parentID != "" {
			parent, err := tx.GetPage(ctx, parentID)
			if err != nil {
				return err
			}
			if parent.WorkspaceID != ws.ID {
				return store.ErrNotFound
			}
			if limit := s.maxTreeDepth(); content.Depth(parentID, s.cfg.MainPageLayout)+1 > limit {
				return validationError(fmt.Sprintf("page nesting exceeds %d levels", limit))
			}
			page.ParentID = &parentID
		}
		if page.Position, err = tx.NextPagePosition(ctx, ws.ID); err != nil {
			return err
		}
		if input.Icon != "" {
			owner := element.Container{PageID: page.ID, Title: title, Refs: content.BlobKeys(ws.IconKey, ws.BannerKey)}
			key, err := s.codec.DecodeIcon(ctx, input.Icon, "icons", owner)
			if err != nil && !s.recovered(err, "page icon", page.ID) {
				return err
			}
			page.IconKey = key
		}
		return tx.InsertPage(ctx, page)
	})
	if err != nil {
		return PageView{}, err
	}
	s.notifyChanged(ctx, sess, ws)
	return pageView(page), nil
}

func (s *Service) RenamePage(ctx context.Context, sess Session, workspaceTitle, pageID, title string) (PageView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return PageView{}, validationError("title is required")
	}

	var (
		ws   store.Workspace
		page store.Page
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var err error
		ws, err = s.lockWorkspace(ctx, tx, sess.UserID, workspaceTitle)
		if err != nil {
			return err
		}
		if err := tx.RenamePage(ctx, ws.ID, pageID, title); err != nil {
			return err
		}
		page, err = tx.GetPage(ctx, pageID)
		return err
	})
	if err != nil {
		return PageView{}, err
	}
	s.notifyChanged(ctx, sess, ws)
	return pageView(page), nil
}

// DeletePage removes the page, its descendants and their elements, then
// drops the blobs they referenced.
func (s *Service) DeletePage(ctx context.Context, sess Session, workspaceTitle, pageID string) error {
	var (
		ws      store.Workspace
		orphans []string
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var err error
		ws, err = s.lockWorkspace(ctx, tx, sess.UserID, workspaceTitle)
		if err != nil {
			return err
		}
		content, err := workspaceContent(ctx, tx, ws)
		if err != nil {
			return err
		}
		if err := tx.DeletePage(ctx, ws.ID, pageID); err != nil {
			return err
		}
		orphans = orphaned(content.Subtree(pageID).BlobKeys(), nil)
		return nil
	})
	if err != nil {
		return err
	}
	s.codec.DeleteBlobs(ctx, orphans)
	s.notifyChanged(ctx, sess, ws)
	return nil
}

// AddElement decodes rec and appends it to the page. rec.Type selects the
// element kind.
func (s *Service) AddElement(ctx context.Context, sess Session, pageID string, rec document.Element) (document.Element, error) {
	var (
		ws  store.Workspace
		out document.Element
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var (
			page store.Page
			err  error
		)
		ws, page, err = s.ownedPage(ctx, tx, sess.UserID, pageID)
		if err != nil {
			return err
		}
		el, titles, err := s.decodeElement(ctx, tx, ws, page, rec)
		if err != nil {
			return err
		}
		if el.Position, err = tx.NextElementPosition(ctx, page.ID); err != nil {
			return err
		}
		if err := tx.InsertElement(ctx, el); err != nil {
			return err
		}
		out = s.codec.Encode(ctx, el, titles)
		return nil
	})
	if err != nil {
		return document.Element{}, err
	}
	s.notifyChanged(ctx, sess, ws)
	return out, nil
}

// UpdateElement replaces the payload of an existing element of the same
// kind. Its id, container and position are kept.
func (s *Service) UpdateElement(ctx context.Context, sess Session, pageID, elementID string, rec document.Element) (document.Element, error) {
	var (
		ws    store.Workspace
		out   document.Element
		stale string
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var (
			page store.Page
			err  error
		)
		ws, page, err = s.ownedPage(ctx, tx, sess.UserID, pageID)
		if err != nil {
			return err
		}
		kind := store.ElementKind(document.NormalizeType(rec.Type))
		current, err := tx.GetPageElement(ctx, page.ID, elementID, kind)
		if err != nil {
			return err
		}
		el, titles, err := s.decodeElement(ctx, tx, ws, page, rec)
		if err != nil {
			return err
		}
		el.ID = current.ID
		el.Position = current.Position
		if err := tx.UpdateElement(ctx, el); err != nil {
			return err
		}
		if current.BlobKey != "" && current.BlobKey != el.BlobKey {
			stale = current.BlobKey
		}
		out = s.codec.Encode(ctx, el, titles)
		return nil
	})
	if err != nil {
		return document.Element{}, err
	}
	if stale != "" {
		s.codec.DeleteBlobs(ctx, []string{stale})
	}
	s.notifyChanged(ctx, sess, ws)
	return out, nil
}

func (s *Service) DeleteElement(ctx context.Context, sess Session, pageID, elementID, elementType string) error {
	kind := store.ElementKind(document.NormalizeType(elementType))
	if !s.codec.Known(string(kind)) {
		return &element.UnknownElementTypeError{Type: elementType}
	}
	var (
		ws      store.Workspace
		removed store.Element
	)
	err := s.store.InTx(ctx, func(tx contentStore) error {
		var err error
		ws, _, err = s.ownedPage(ctx, tx, sess.UserID, pageID)
		if err != nil {
			return err
		}
		if removed, err = tx.GetPageElement(ctx, pageID, elementID, kind); err != nil {
			return err
		}
		return tx.DeletePageElement(ctx, pageID, elementID, kind)
	})
	if err != nil {
		return err
	}
	if removed.BlobKey != "" {
		s.codec.DeleteBlobs(ctx, []string{removed.BlobKey})
	}
	s.notifyChanged(ctx, sess, ws)
	return nil
}

func (s *Service) lockWorkspace(ctx context.Context, tx contentStore, authorID, title string) (store.Workspace, error) {
	ws, err := tx.GetWorkspaceByTitle(ctx, authorID, title)
	if err != nil {
		return store.Workspace{}, err
	}
	if err := tx.LockWorkspace(ctx, ws.ID); err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

// ownedPage loads a page and its workspace, locking the workspace. Pages of
// other authors are reported as not found.
func (s *Service) ownedPage(ctx context.Context, tx contentStore, authorID, pageID string) (store.Workspace, store.Page, error) {
	page, err := tx.GetPage(ctx, pageID)
	if err != nil {
		return store.Workspace{}, store.Page{}, err
	}
	ws, err := tx.GetWorkspace(ctx, page.WorkspaceID)
	if err != nil {
		return store.Workspace{}, store.Page{}, err
	}
	if ws.AuthorID != authorID {
		return store.Workspace{}, store.Page{}, store.ErrNotFound
	}
	if err := tx.LockWorkspace(ctx, ws.ID); err != nil {
		return store.Workspace{}, store.Page{}, err
	}
	return ws, page, nil
}

// decodeElement turns rec into an element of page. Link targets are looked
// up by page title within the workspace; the returned titles map serves the
// encoder.
func (s *Service) decodeElement(ctx context.Context, tx contentStore, ws store.Workspace, page store.Page, rec document.Element) (store.Element, map[string]string, error) {
	content, err := workspaceContent(ctx, tx, ws)
	if err != nil {
		return store.Element{}, nil, err
	}
	owner := element.Container{PageID: page.ID, Title: page.Title, Refs: content.BlobKeys(ws.IconKey, ws.BannerKey)}
	el, err := s.codec.Decode(ctx, rec, owner)
	if err != nil && !s.recovered(err, string(el.Kind), el.ID) {
		return store.Element{}, nil, err
	}

	titles := map[string]string{}
	if el.Kind != store.KindLink {
		return el, titles, nil
	}
	target := strings.TrimSpace(rec.LinkedPage)
	if target == "" {
		return el, titles, nil
	}
	for _, p := range content.Pages {
		if p.ID == target || p.Title == target {
			id := p.ID
			el.LinkedPageID = &id
			titles[p.ID] = p.Title
			return el, titles, nil
		}
	}
	return store.Element{}, nil, store.ErrCrossWorkspaceLink
}

// workspaceContent loads every page and element of ws.
func workspaceContent(ctx context.Context, tx contentStore, ws store.Workspace) (store.WorkspaceContent, error) {
	pages, err := tx.ListPages(ctx, ws.ID)
	if err != nil {
		return store.WorkspaceContent{}, err
	}
	elements, err := tx.ListElements(ctx, ws.ID)
	if err != nil {
		return store.WorkspaceContent{}, err
	}
	return store.WorkspaceContent{Pages: pages, Elements: elements}, nil
}

// orphaned lists the keys of before that after no longer references, sorted.
func orphaned(before, after map[string]bool) []string {
	var keys []string
	for key := range before {
		if !after[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) maxTreeDepth() int {
	if s.cfg.MaxTreeDepth > 0 {
		return s.cfg.MaxTreeDepth
	}
	return treesync.DefaultMaxTreeDepth
}

// recovered reports whether err only means a binary field was stored empty.
func (s *Service) recovered(err error, what, id string) bool {
	var invalid *element.InvalidEncodingError
	if !errors.As(err, &invalid) {
		return false
	}
	s.log.Warn().Err(err).Str("subject", what).Str("id", id).Msgf("%s has invalid binary data, stored empty", what)
	return true
}

func (s *Service) notifyChanged(ctx context.Context, sess Session, ws store.Workspace) {
	if s.changed == nil {
		return
	}
	doc, err := s.engine.Get(ctx, sess.UserID, ws.Title)
	if err != nil {
		s.log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("serialize after edit failed")
		return
	}
	s.changed(ctx, ws, doc)
}
