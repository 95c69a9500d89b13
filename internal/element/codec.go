// Package element converts content elements between their stored form and
// the JSON records exchanged with sync clients.
package element

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"mindnote/api/internal/blob"
	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
	"mindnote/api/internal/util"
)

// Container identifies the owner of decoded elements. Exactly one of
// WorkspaceID and PageID is set. Title names blob keys. Refs holds the blob
// keys the owner's workspace already references; only those may be sent
// back as "blob:<key>".
type Container struct {
	WorkspaceID string
	PageID      string
	Title       string
	Refs        map[string]bool
}

func (c Container) ID() string {
	if c.PageID != "" {
		return c.PageID
	}
	return c.WorkspaceID
}

func (c Container) validate() error {
	if (c.WorkspaceID == "") == (c.PageID == "") {
		return store.ErrMissingContainer
	}
	return nil
}

type encodeFunc func(ctx context.Context, c *Codec, el store.Element, titles map[string]string, out *document.Element)

type decodeFunc func(ctx context.Context, c *Codec, rec document.Element, owner Container, el *store.Element) error

type normalizeFunc func(ctx context.Context, c *Codec, rec document.Element, refs map[string]bool, out *document.Element)

type kindCodec struct {
	encode    encodeFunc
	decode    decodeFunc
	normalize normalizeFunc
}

type Codec struct {
	blobs blob.Store
	log   zerolog.Logger
	kinds map[store.ElementKind]kindCodec
}

func NewCodec(blobs blob.Store, logger zerolog.Logger) *Codec {
	return &Codec{
		blobs: blobs,
		log:   logger.With().Str("component", "element_codec").Logger(),
		kinds: map[store.ElementKind]kindCodec{
			store.KindText:     {encode: encodeText, decode: decodeText, normalize: normalizeText},
			store.KindImage:    {encode: encodeImage, decode: decodeImage, normalize: normalizeImage},
			store.KindFile:     {encode: encodeFile, decode: decodeFile, normalize: normalizeFile},
			store.KindCheckbox: {encode: encodeCheckbox, decode: decodeCheckbox, normalize: normalizeCheckbox},
			store.KindLink:     {encode: encodeLink, decode: decodeLink, normalize: normalizeLink},
		},
	}
}

// Known reports whether the record type has a codec.
func (c *Codec) Known(recordType string) bool {
	_, ok := c.kinds[store.ElementKind(document.NormalizeType(recordType))]
	return ok
}

// Encode renders a stored element as a wire record. titles maps page ids to
// titles for link elements. Encode does not fail: unreadable blobs are
// emitted empty and logged.
func (c *Codec) Encode(ctx context.Context, el store.Element, titles map[string]string) document.Element {
	out := document.Element{ID: el.ID, Type: string(el.Kind)}
	if kc, ok := c.kinds[el.Kind]; ok {
		kc.encode(ctx, c, el, titles, &out)
	} else {
		c.log.Warn().Str("element_id", el.ID).Str("kind", string(el.Kind)).Msg("stored element has unknown kind")
	}
	return out
}

// Decode builds a storable element from a wire record owned by owner.
//
// An *InvalidEncodingError is returned together with a usable element whose
// binary field is empty. An *UnknownElementTypeError or
// store.ErrMissingContainer means no element was produced. Any other error
// comes from the blob store.
//
// Link records leave LinkedPageID nil; the target is resolved by the caller
// once every page of the workspace exists.
func (c *Codec) Decode(ctx context.Context, rec document.Element, owner Container) (store.Element, error) {
	if err := owner.validate(); err != nil {
		return store.Element{}, err
	}
	kind := store.ElementKind(document.NormalizeType(rec.Type))
	kc, ok := c.kinds[kind]
	if !ok {
		return store.Element{}, &UnknownElementTypeError{Type: rec.Type}
	}

	el := store.Element{ID: util.NewID("el"), Kind: kind}
	if owner.PageID != "" {
		pageID := owner.PageID
		el.PageID = &pageID
	} else {
		workspaceID := owner.WorkspaceID
		el.WorkspaceID = &workspaceID
	}
	if err := kc.decode(ctx, c, rec, owner, &el); err != nil {
		return el, err
	}
	return el, nil
}

// Normalize returns rec the way it reads back after Decode and Encode,
// without storing anything. Binary fields carry bare base64 and a link
// carries its trimmed target, which the caller resolves. ok is false for
// records Decode would reject.
func (c *Codec) Normalize(ctx context.Context, rec document.Element, refs map[string]bool) (out document.Element, ok bool) {
	kind := store.ElementKind(document.NormalizeType(rec.Type))
	kc, known := c.kinds[kind]
	if !known {
		return document.Element{}, false
	}
	out = document.Element{Type: string(kind)}
	kc.normalize(ctx, c, rec, refs, &out)
	return out, true
}

// DecodeIcon stores an icon or banner image under folder and returns its
// blob key.
func (c *Codec) DecodeIcon(ctx context.Context, value, folder string, owner Container) (string, error) {
	return c.storeBinary(ctx, folder, value, folder, owner, "", "")
}

// EncodeIcon renders a stored icon or banner as a data URI.
func (c *Codec) EncodeIcon(ctx context.Context, key string) string {
	return c.loadBinary(ctx, key)
}

func encodeText(_ context.Context, _ *Codec, el store.Element, _ map[string]string, out *document.Element) {
	out.Content = el.Content
}

func decodeText(_ context.Context, _ *Codec, rec document.Element, _ Container, el *store.Element) error {
	el.Content = rec.Content
	return nil
}

func encodeImage(ctx context.Context, c *Codec, el store.Element, _ map[string]string, out *document.Element) {
	out.Image = c.loadBinary(ctx, el.BlobKey)
}

func decodeImage(ctx context.Context, c *Codec, rec document.Element, owner Container, el *store.Element) error {
	key, err := c.storeBinary(ctx, "image", rec.Image, "images", owner, el.ID, "")
	el.BlobKey = key
	return err
}

func encodeFile(ctx context.Context, c *Codec, el store.Element, _ map[string]string, out *document.Element) {
	out.File = c.loadBinary(ctx, el.BlobKey)
	out.FileName = el.FileName
}

func decodeFile(ctx context.Context, c *Codec, rec document.Element, owner Container, el *store.Element) error {
	el.FileName = rec.FileName
	key, err := c.storeBinary(ctx, "file", rec.File, "files", owner, el.ID, rec.FileName)
	el.BlobKey = key
	return err
}

func encodeCheckbox(_ context.Context, _ *Codec, el store.Element, _ map[string]string, out *document.Element) {
	out.Label = el.Label
	out.Checked = el.Checked
}

func decodeCheckbox(_ context.Context, _ *Codec, rec document.Element, _ Container, el *store.Element) error {
	el.Label = rec.Label
	el.Checked = rec.Checked
	return nil
}

func encodeLink(_ context.Context, _ *Codec, el store.Element, titles map[string]string, out *document.Element) {
	if el.LinkedPageID == nil {
		return
	}
	if title, ok := titles[*el.LinkedPageID]; ok {
		out.LinkedPage = title
		return
	}
	out.LinkedPage = *el.LinkedPageID
}

func decodeLink(_ context.Context, _ *Codec, _ document.Element, _ Container, _ *store.Element) error {
	return nil
}

func normalizeText(_ context.Context, _ *Codec, rec document.Element, _ map[string]bool, out *document.Element) {
	out.Content = rec.Content
}

func normalizeImage(ctx context.Context, c *Codec, rec document.Element, refs map[string]bool, out *document.Element) {
	out.Image = c.CanonicalBinary(ctx, rec.Image, refs)
}

func normalizeFile(ctx context.Context, c *Codec, rec document.Element, refs map[string]bool, out *document.Element) {
	out.File = c.CanonicalBinary(ctx, rec.File, refs)
	out.FileName = rec.FileName
}

func normalizeCheckbox(_ context.Context, _ *Codec, rec document.Element, _ map[string]bool, out *document.Element) {
	out.Label = rec.Label
	out.Checked = rec.Checked
}

func normalizeLink(_ context.Context, _ *Codec, rec document.Element, _ map[string]bool, out *document.Element) {
	out.LinkedPage = strings.TrimSpace(rec.LinkedPage)
}
