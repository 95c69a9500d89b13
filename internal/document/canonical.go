package document

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// StripDataURI returns the base64 payload of a data URI, or value unchanged
// when it is not one.
func StripDataURI(value string) string {
	if !strings.HasPrefix(value, "data:") {
		return value
	}
	if i := strings.Index(value, ";base64,"); i >= 0 {
		return value[i+len(";base64,"):]
	}
	if i := strings.IndexByte(value, ','); i >= 0 {
		return value[i+1:]
	}
	return value
}

// Canonical returns a deep copy of w in the form used for equality checks:
// ids are dropped, binary fields lose their data-URI prefix, the default
// status is made explicit and nil lists become empty.
func Canonical(w Workspace) Workspace {
	out := w
	out.Status = w.StatusOrDefault()
	out.Icon = StripDataURI(w.Icon)
	out.Banner = StripDataURI(w.Banner)
	if len(w.Tags) > 0 {
		out.Tags = append([]string(nil), w.Tags...)
	} else {
		out.Tags = nil
	}
	out.Elements = canonicalElements(w.Elements)
	out.Pages = make([]*Page, 0, len(w.Pages))

	type frame struct {
		src *Page
		dst *[]*Page
	}
	stack := make([]frame, 0, len(w.Pages))
	for i := len(w.Pages) - 1; i >= 0; i-- {
		stack = append(stack, frame{src: w.Pages[i], dst: &out.Pages})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.src == nil {
			continue
		}
		copied := &Page{
			Title:    top.src.Title,
			Icon:     StripDataURI(top.src.Icon),
			IsMain:   top.src.IsMain,
			Elements: canonicalElements(top.src.Elements),
			Pages:    make([]*Page, 0, len(top.src.Pages)),
		}
		*top.dst = append(*top.dst, copied)
		for i := len(top.src.Pages) - 1; i >= 0; i-- {
			stack = append(stack, frame{src: top.src.Pages[i], dst: &copied.Pages})
		}
	}
	return out
}

func canonicalElements(in Elements) Elements {
	out := make(Elements, 0, len(in))
	for _, item := range in {
		item.ID = ""
		item.Type = NormalizeType(item.Type)
		item.Image = StripDataURI(item.Image)
		item.File = StripDataURI(item.File)
		out = append(out, item)
	}
	return out
}

// Fingerprint hashes the canonical encoding of w. Two documents with equal
// fingerprints describe the same workspace content.
func Fingerprint(w Workspace) (string, error) {
	payload, err := json.Marshal(Canonical(w))
	if err != nil {
		return "", fmt.Errorf("encode canonical document: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
