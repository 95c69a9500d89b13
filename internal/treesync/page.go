package treesync

import (
	"context"
	"errors"
	"strings"

	"mindnote/api/internal/document"
	"mindnote/api/internal/element"
	"mindnote/api/internal/store"
	"mindnote/api/internal/util"
)

// builder writes one workspace document into storage. Positions increase
// across the whole workspace so pages and elements keep document order.
type builder struct {
	e        *Engine
	r        Repo
	ws       store.Workspace
	refs     map[string]bool
	position int
	titles   map[string]string
	links    []pendingLink
	stats    buildStats
}

type pendingLink struct {
	el     store.Element
	target string
}

type buildStats struct {
	pages    int
	elements int
	skipped  int
}

type buildFrame struct {
	doc      *document.Page
	parentID *string
	depth    int
}

func newBuilder(e *Engine, r Repo, ws store.Workspace, refs map[string]bool, position int) *builder {
	return &builder{e: e, r: r, ws: ws, refs: refs, position: position, titles: make(map[string]string)}
}

func (b *builder) next() int {
	pos := b.position
	b.position++
	return pos
}

func (b *builder) notePage(id, title string) {
	if _, ok := b.titles[title]; !ok {
		b.titles[title] = id
	}
}

// buildPages creates the page subtrees rooted at roots under parentID
// without recursion. Pages deeper than MaxTreeDepth and pages without a
// title are skipped with their subtrees.
func (b *builder) buildPages(ctx context.Context, roots []*document.Page, parentID *string) error {
	stack := make([]buildFrame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, buildFrame{doc: roots[i], parentID: parentID, depth: 1})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.doc == nil {
			continue
		}

		title := strings.TrimSpace(top.doc.Title)
		if title == "" {
			b.skip("page without title skipped", top.doc.Title, top.depth)
			continue
		}
		if top.depth > b.e.opts.MaxTreeDepth {
			b.skip("page subtree exceeds max depth, skipped", title, top.depth)
			continue
		}

		pageID, err := b.buildPage(ctx, top.doc, title, top.parentID)
		if err != nil {
			return err
		}
		for i := len(top.doc.Pages) - 1; i >= 0; i-- {
			stack = append(stack, buildFrame{doc: top.doc.Pages[i], parentID: &pageID, depth: top.depth + 1})
		}
	}
	return nil
}

func (b *builder) buildPage(ctx context.Context, doc *document.Page, title string, parentID *string) (string, error) {
	page := store.Page{
		ID:          util.NewID("pg"),
		WorkspaceID: b.ws.ID,
		ParentID:    parentID,
		Title:       title,
		IsMain:      doc.IsMain && !b.e.opts.MainPageLayout,
		Position:    b.next(),
	}
	owner := element.Container{PageID: page.ID, Title: title, Refs: b.refs}

	iconKey, err := b.e.codec.DecodeIcon(ctx, doc.Icon, "icons", owner)
	if err != nil {
		if !b.recoverable(err, "page icon", page.ID) {
			return "", err
		}
	}
	page.IconKey = iconKey

	if err := b.r.InsertPage(ctx, page); err != nil {
		return "", err
	}
	b.stats.pages++
	b.notePage(page.ID, title)

	if err := b.buildElements(ctx, doc.Elements, owner); err != nil {
		return "", err
	}
	return page.ID, nil
}

// buildElements decodes and stores one container's elements. Link elements
// with a target are held until every page exists.
func (b *builder) buildElements(ctx context.Context, list document.Elements, owner element.Container) error {
	for _, rec := range list {
		el, err := b.e.codec.Decode(ctx, rec, owner)
		if err != nil {
			var unknown *element.UnknownElementTypeError
			switch {
			case errors.As(err, &unknown):
				b.skip("unknown element type skipped", unknown.Type, 0)
				continue
			case errors.Is(err, store.ErrMissingContainer):
				b.skip("element without container skipped", rec.Type, 0)
				continue
			case !b.recoverable(err, "element", el.ID):
				return err
			}
		}
		el.Position = b.next()

		if el.Kind == store.KindLink && strings.TrimSpace(rec.LinkedPage) != "" {
			b.links = append(b.links, pendingLink{el: el, target: strings.TrimSpace(rec.LinkedPage)})
			continue
		}
		if err := b.insertElement(ctx, el); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) insertElement(ctx context.Context, el store.Element) error {
	err := b.r.InsertElement(ctx, el)
	if errors.Is(err, store.ErrMissingContainer) || errors.Is(err, store.ErrCrossWorkspaceLink) {
		b.e.log.Warn().Err(err).Str("workspace_id", b.ws.ID).Str("element_id", el.ID).Msg("element rejected")
		b.stats.skipped++
		return nil
	}
	if err != nil {
		return err
	}
	b.stats.elements++
	return nil
}

// resolveLinks points held link elements at pages of this workspace by
// title. Unresolved targets are stored as empty links.
func (b *builder) resolveLinks(ctx context.Context) error {
	for _, link := range b.links {
		if id, ok := b.titles[link.target]; ok {
			target := id
			link.el.LinkedPageID = &target
		} else {
			b.e.log.Warn().Str("workspace_id", b.ws.ID).Str("target", link.target).Msg("link target not found")
		}
		if err := b.insertElement(ctx, link.el); err != nil {
			return err
		}
	}
	b.links = nil
	return nil
}

// recoverable logs and absorbs an invalid binary encoding. Any other error
// is left to the caller.
func (b *builder) recoverable(err error, what, id string) bool {
	var invalid *element.InvalidEncodingError
	if !errors.As(err, &invalid) {
		return false
	}
	b.e.log.Warn().Err(err).Str("workspace_id", b.ws.ID).Str("id", id).Msgf("%s has invalid binary data, stored empty", what)
	return true
}

func (b *builder) skip(msg, subject string, depth int) {
	b.stats.skipped++
	event := b.e.log.Warn().Str("workspace_id", b.ws.ID).Str("subject", subject)
	if depth > 0 {
		event = event.Int("depth", depth)
	}
	event.Msg(msg)
}

// tree is the stored content of one workspace indexed for serialization.
type tree struct {
	children map[string][]store.Page
	elements map[string][]store.Element
	titles   map[string]string
}

func loadTree(ctx context.Context, r Repo, workspaceID string) (tree, error) {
	pages, err := r.ListPages(ctx, workspaceID)
	if err != nil {
		return tree{}, err
	}
	elements, err := r.ListElements(ctx, workspaceID)
	if err != nil {
		return tree{}, err
	}

	t := tree{
		children: make(map[string][]store.Page),
		elements: make(map[string][]store.Element),
		titles:   make(map[string]string, len(pages)),
	}
	for _, p := range pages {
		parent := ""
		if p.ParentID != nil {
			parent = *p.ParentID
		}
		t.children[parent] = append(t.children[parent], p)
		t.titles[p.ID] = p.Title
	}
	for _, el := range elements {
		container := el.ContainerID()
		t.elements[container] = append(t.elements[container], el)
	}
	return t, nil
}

func (e *Engine) encodeElements(ctx context.Context, stored []store.Element, titles map[string]string) document.Elements {
	out := make(document.Elements, 0, len(stored))
	for _, el := range stored {
		out = append(out, e.codec.Encode(ctx, el, titles))
	}
	return out
}

type serializeFrame struct {
	page store.Page
	dst  *[]*document.Page
}

// serializePages renders the subtrees rooted at roots into dst, in
// position order, without recursion. Stored pages are never dropped, however
// deep; MaxTreeDepth only limits what a document may create.
func (e *Engine) serializePages(ctx context.Context, t tree, roots []store.Page, dst *[]*document.Page) {
	stack := make([]serializeFrame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, serializeFrame{page: roots[i], dst: dst})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &document.Page{
			ID:       top.page.ID,
			Title:    top.page.Title,
			Icon:     e.codec.EncodeIcon(ctx, top.page.IconKey),
			IsMain:   top.page.IsMain,
			Elements: e.encodeElements(ctx, t.elements[top.page.ID], t.titles),
			Pages:    make([]*document.Page, 0),
		}
		*top.dst = append(*top.dst, node)

		kids := t.children[top.page.ID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, serializeFrame{page: kids[i], dst: &node.Pages})
		}
	}
}
