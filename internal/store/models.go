package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	DisplayName  string    `db:"display_name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

type Workspace struct {
	ID        string     `db:"id"`
	AuthorID  string     `db:"author_id"`
	Title     string     `db:"title"`
	Status    string     `db:"status"`
	IconKey   string     `db:"icon_key"`
	BannerKey string     `db:"banner_key"`
	Tags      Tags       `db:"tags"`
	Info      string     `db:"info"`
	StartDate *time.Time `db:"start_date"`
	EndDate   *time.Time `db:"end_date"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

type Page struct {
	ID          string    `db:"id"`
	WorkspaceID string    `db:"workspace_id"`
	ParentID    *string   `db:"parent_id"`
	Title       string    `db:"title"`
	IconKey     string    `db:"icon_key"`
	IsMain      bool      `db:"is_main"`
	Position    int       `db:"position"`
	CreatedAt   time.Time `db:"created_at"`
}

type ElementKind string

const (
	KindText     ElementKind = "text"
	KindImage    ElementKind = "image"
	KindFile     ElementKind = "file"
	KindCheckbox ElementKind = "checkbox"
	KindLink     ElementKind = "link"
)

// Element is a content leaf. Its container is exactly one of WorkspaceID
// (top-level element) or PageID.
type Element struct {
	ID           string      `db:"id"`
	WorkspaceID  *string     `db:"workspace_id"`
	PageID       *string     `db:"page_id"`
	Kind         ElementKind `db:"kind"`
	Position     int         `db:"position"`
	Content      string      `db:"content"`
	BlobKey      string      `db:"blob_key"`
	FileName     string      `db:"file_name"`
	Label        string      `db:"label"`
	Checked      bool        `db:"checked"`
	LinkedPageID *string     `db:"linked_page_id"`
	CreatedAt    time.Time   `db:"created_at"`
}

// Validate enforces the container exclusivity rule.
func (e Element) Validate() error {
	hasWorkspace := e.WorkspaceID != nil && *e.WorkspaceID != ""
	hasPage := e.PageID != nil && *e.PageID != ""
	if hasWorkspace == hasPage {
		return ErrMissingContainer
	}
	return nil
}

// ContainerID returns the id of whichever container owns the element.
func (e Element) ContainerID() string {
	if e.PageID != nil && *e.PageID != "" {
		return *e.PageID
	}
	if e.WorkspaceID != nil {
		return *e.WorkspaceID
	}
	return ""
}

// WorkspaceContent is every row below one workspace, in position order.
type WorkspaceContent struct {
	Pages    []Page
	Elements []Element
}

// BlobKeys returns the blob keys referenced by the pages and elements, plus
// any extra keys (workspace icon and banner). Empty keys are left out.
func (c WorkspaceContent) BlobKeys(extra ...string) map[string]bool {
	keys := make(map[string]bool)
	add := func(key string) {
		if key != "" {
			keys[key] = true
		}
	}
	for _, key := range extra {
		add(key)
	}
	for _, p := range c.Pages {
		add(p.IconKey)
	}
	for _, el := range c.Elements {
		add(el.BlobKey)
	}
	return keys
}

// Subtree returns the page rootID, every page below it and their elements.
func (c WorkspaceContent) Subtree(rootID string) WorkspaceContent {
	children := make(map[string][]Page)
	for _, p := range c.Pages {
		if p.ParentID != nil {
			children[*p.ParentID] = append(children[*p.ParentID], p)
		}
	}
	in := make(map[string]bool)
	var out WorkspaceContent
	for _, p := range c.Pages {
		if p.ID != rootID {
			continue
		}
		stack := []Page{p}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if in[top.ID] {
				continue
			}
			in[top.ID] = true
			out.Pages = append(out.Pages, top)
			stack = append(stack, children[top.ID]...)
		}
	}
	for _, el := range c.Elements {
		if el.PageID != nil && in[*el.PageID] {
			out.Elements = append(out.Elements, el)
		}
	}
	return out
}

// Depth returns how many pages sit on the parent chain of pageID, the page
// itself included. Main pages are not counted when skipMain is set. Zero
// means pageID is not in c.
func (c WorkspaceContent) Depth(pageID string, skipMain bool) int {
	byID := make(map[string]Page, len(c.Pages))
	for _, p := range c.Pages {
		byID[p.ID] = p
	}
	depth := 0
	seen := make(map[string]bool)
	for id := pageID; id != "" && !seen[id]; {
		p, ok := byID[id]
		if !ok {
			break
		}
		seen[id] = true
		if !(skipMain && p.IsMain) {
			depth++
		}
		id = ""
		if p.ParentID != nil {
			id = *p.ParentID
		}
	}
	return depth
}

type SearchHit struct {
	Kind        string `db:"kind"`
	ID          string `db:"id"`
	WorkspaceID string `db:"workspace_id"`
	Title       string `db:"title"`
	Snippet     string `db:"snippet"`
}

// Tags is a string list stored as a JSONB array.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	payload, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func (t *Tags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*t = out
	return nil
}
