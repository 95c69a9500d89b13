package treesync

import (
	"context"
	"strings"

	"mindnote/api/internal/document"
)

type normalizeFrame struct {
	src   *document.Page
	dst   *[]*document.Page
	depth int
}

// normalize returns doc the way it would read back after Upsert, without
// storing anything: the builder's trimming, skipping, depth and main page
// rules are applied, binaries carry the stored encoding and links keep
// their target only if it names a page of the document. refs are the blob
// keys of the stored workspace with the same title, if any.
func (e *Engine) normalize(ctx context.Context, doc document.Workspace, refs map[string]bool) document.Workspace {
	out := document.Workspace{
		Title:     strings.TrimSpace(doc.Title),
		Status:    doc.StatusOrDefault(),
		Icon:      e.codec.CanonicalBinary(ctx, doc.Icon, refs),
		Banner:    e.codec.CanonicalBinary(ctx, doc.Banner, refs),
		Tags:      append([]string(nil), doc.Tags...),
		Info:      doc.Info,
		StartDate: doc.StartDate,
		EndDate:   doc.EndDate,
		Pages:     make([]*document.Page, 0, len(doc.Pages)),
	}
	if start, end, err := doc.ParseDates(); err == nil {
		out.StartDate = document.FormatDate(start)
		out.EndDate = document.FormatDate(end)
	}

	titles := make(map[string]bool)
	if e.opts.MainPageLayout {
		titles[out.Title] = true
	}
	var links []*document.Element
	elements := func(in document.Elements) document.Elements {
		list := make(document.Elements, 0, len(in))
		for _, rec := range in {
			if el, ok := e.codec.Normalize(ctx, rec, refs); ok {
				list = append(list, el)
			}
		}
		for i := range list {
			if list[i].Type == document.TypeLink && list[i].LinkedPage != "" {
				links = append(links, &list[i])
			}
		}
		return list
	}
	out.Elements = elements(doc.Elements)

	var main *document.Page
	stack := make([]normalizeFrame, 0, len(doc.Pages))
	for i := len(doc.Pages) - 1; i >= 0; i-- {
		stack = append(stack, normalizeFrame{src: doc.Pages[i], dst: &out.Pages, depth: 1})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.src == nil {
			continue
		}
		title := strings.TrimSpace(top.src.Title)
		if title == "" || top.depth > e.opts.MaxTreeDepth {
			continue
		}

		page := &document.Page{
			Title:    title,
			Icon:     e.codec.CanonicalBinary(ctx, top.src.Icon, refs),
			IsMain:   top.src.IsMain && !e.opts.MainPageLayout,
			Elements: elements(top.src.Elements),
			Pages:    make([]*document.Page, 0, len(top.src.Pages)),
		}
		if page.IsMain {
			if main != nil {
				main.IsMain = false
			}
			main = page
		}
		titles[title] = true
		*top.dst = append(*top.dst, page)
		for i := len(top.src.Pages) - 1; i >= 0; i-- {
			stack = append(stack, normalizeFrame{src: top.src.Pages[i], dst: &page.Pages, depth: top.depth + 1})
		}
	}

	for _, link := range links {
		if !titles[link.LinkedPage] {
			link.LinkedPage = ""
		}
	}
	return out
}
