// Package document defines the JSON shapes exchanged with sync clients:
// workspace and page documents and the element records they carry.
//
// Two element-list encodings exist in the wild: a typed map
// ({"images":[...],"texts":[...]}) and a flat list whose entries carry a
// "type" discriminant (either a short name such as "text" or a legacy
// client name such as "TextItem"). Both decode into the same Elements value;
// Elements always encodes as the typed map.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

const DateLayout = "2006-01-02"

var ErrInvalidDocument = errors.New("invalid document")

type Workspace struct {
	Title     string   `json:"title"`
	Status    string   `json:"status,omitempty"`
	Icon      string   `json:"icon,omitempty"`
	Banner    string   `json:"banner,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Info      string   `json:"info,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Elements  Elements `json:"elements"`
	Pages     []*Page  `json:"pages"`
}

type Page struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Icon     string   `json:"icon,omitempty"`
	IsMain   bool     `json:"is_main,omitempty"`
	Elements Elements `json:"elements"`
	Pages    []*Page  `json:"pages"`
}

// Validate checks the workspace-level fields. Pages and elements are
// validated while they are built, where failures are skipped rather than
// rejected.
func (w Workspace) Validate() error {
	if strings.TrimSpace(w.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDocument)
	}
	switch w.Status {
	case "", StatusNotStarted, StatusInProgress, StatusCompleted:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDocument, w.Status)
	}
	start, err := parseDate("start_date", w.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("end_date", w.EndDate)
	if err != nil {
		return err
	}
	if start != nil && end != nil && start.After(*end) {
		return fmt.Errorf("%w: start_date must not be after end_date", ErrInvalidDocument)
	}
	return nil
}

// StatusOrDefault returns the status, defaulting to not_started.
func (w Workspace) StatusOrDefault() string {
	if w.Status == "" {
		return StatusNotStarted
	}
	return w.Status
}

// ParseDates returns the optional start and end dates.
func (w Workspace) ParseDates() (start, end *time.Time, err error) {
	if start, err = parseDate("start_date", w.StartDate); err != nil {
		return nil, nil, err
	}
	if end, err = parseDate("end_date", w.EndDate); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		if ts, tsErr := time.Parse(time.RFC3339, value); tsErr == nil {
			day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidDocument, field)
	}
	return &parsed, nil
}

// FormatDate renders an optional date the way documents carry it.
func FormatDate(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(DateLayout)
}

type pageFrame struct {
	page  *Page
	depth int
}

// WalkPages visits every page of the workspace in depth-first pre-order
// without recursion. Depth of root pages is 1.
func (w *Workspace) WalkPages(fn func(p *Page, depth int)) {
	stack := make([]pageFrame, 0, len(w.Pages))
	for i := len(w.Pages) - 1; i >= 0; i-- {
		stack = append(stack, pageFrame{page: w.Pages[i], depth: 1})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.page == nil {
			continue
		}
		fn(top.page, top.depth)
		for i := len(top.page.Pages) - 1; i >= 0; i-- {
			stack = append(stack, pageFrame{page: top.page.Pages[i], depth: top.depth + 1})
		}
	}
}
