package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeFile     = "file"
	TypeCheckbox = "checkbox"
	TypeLink     = "link"
)

// Element is one content record. In the typed-map encoding Type is implied by
// the group key and omitted on output.
type Element struct {
	ID         string `json:"id,omitempty"`
	Type       string `json:"type,omitempty"`
	Content    string `json:"content,omitempty"`
	Image      string `json:"image,omitempty"`
	File       string `json:"file,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Label      string `json:"label,omitempty"`
	Checked    bool   `json:"checked,omitempty"`
	LinkedPage string `json:"linked_page,omitempty"`
}

// groups lists the typed-map keys in decode order.
var groups = []struct {
	key      string
	elemType string
}{
	{"images", TypeImage},
	{"files", TypeFile},
	{"checkboxes", TypeCheckbox},
	{"texts", TypeText},
	{"links", TypeLink},
}

var typeAliases = map[string]string{
	"text":             TypeText,
	"texts":            TypeText,
	"textitem":         TypeText,
	"image":            TypeImage,
	"images":           TypeImage,
	"imageitem":        TypeImage,
	"file":             TypeFile,
	"files":            TypeFile,
	"fileitem":         TypeFile,
	"checkbox":         TypeCheckbox,
	"checkboxes":       TypeCheckbox,
	"checkboxitem":     TypeCheckbox,
	"link":             TypeLink,
	"links":            TypeLink,
	"linkitem":         TypeLink,
	"subspacelinkitem": TypeLink,
}

// NormalizeType maps any known discriminant or group key to its canonical
// type name. Unknown values are returned trimmed but otherwise unchanged so
// the element codec can reject them.
func NormalizeType(value string) string {
	trimmed := strings.TrimSpace(value)
	if canonical, ok := typeAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

func groupKey(elemType string) string {
	for _, g := range groups {
		if g.elemType == elemType {
			return g.key
		}
	}
	return elemType
}

func (e *Element) UnmarshalJSON(data []byte) error {
	type plain Element
	var raw struct {
		plain
		ImagePath     string `json:"imagePath"`
		FilePath      string `json:"filePath"`
		SubspaceTitle string `json:"subspaceTitle"`
		SubspaceID    string `json:"subspaceId"`
		Text          string `json:"text"`
		IsChecked     *bool  `json:"is_checked"`
		ElementType   string `json:"element_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Element(raw.plain)
	if e.Type == "" {
		e.Type = raw.ElementType
	}
	e.Type = NormalizeType(e.Type)
	if e.Image == "" {
		e.Image = raw.ImagePath
	}
	if e.File == "" {
		e.File = raw.FilePath
	}
	if e.LinkedPage == "" {
		e.LinkedPage = firstNonEmpty(raw.SubspaceTitle, raw.SubspaceID)
	}
	if e.Label == "" && e.Type == TypeCheckbox {
		e.Label = raw.Text
	}
	if raw.IsChecked != nil {
		e.Checked = *raw.IsChecked
	}
	return nil
}

// Elements is the canonical in-memory element list of one container, in
// creation order.
type Elements []Element

func (es *Elements) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*es = nil
		return nil
	}
	switch trimmed[0] {
	case '[':
		var list []Element
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("decode element list: %w", err)
		}
		*es = list
		return nil
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &byKey); err != nil {
			return fmt.Errorf("decode element map: %w", err)
		}
		keys := make([]string, 0, len(byKey))
		for _, g := range groups {
			if _, ok := byKey[g.key]; ok {
				keys = append(keys, g.key)
			}
		}
		var unknown []string
		for key := range byKey {
			if _, known := typeAliases[strings.ToLower(key)]; !known || groupKey(NormalizeType(key)) != key {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		keys = append(keys, unknown...)

		out := Elements{}
		for _, key := range keys {
			var list []Element
			if err := json.Unmarshal(byKey[key], &list); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			elemType := NormalizeType(key)
			for _, item := range list {
				item.Type = elemType
				out = append(out, item)
			}
		}
		*es = out
		return nil
	default:
		return fmt.Errorf("elements must be an object or an array")
	}
}

func (es Elements) MarshalJSON() ([]byte, error) {
	byKey := make(map[string][]Element, len(groups))
	for _, g := range groups {
		byKey[g.key] = []Element{}
	}
	for _, item := range es {
		key := groupKey(item.Type)
		item.Type = ""
		byKey[key] = append(byKey[key], item)
	}
	return json.Marshal(byKey)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
