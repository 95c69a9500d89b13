package element

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindnote/api/internal/blob"
	"mindnote/api/internal/document"
	"mindnote/api/internal/store"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image")

func newTestCodec() (*Codec, *blob.MemoryStore, *bytes.Buffer) {
	blobs := blob.NewMemoryStore()
	var logs bytes.Buffer
	return NewCodec(blobs, zerolog.New(&logs)), blobs, &logs
}

func pageOwner() Container {
	return Container{PageID: "pg_1", Title: "Поездка"}
}

func TestDecodeText(t *testing.T) {
	c, _, _ := newTestCodec()
	el, err := c.Decode(context.Background(), document.Element{Type: "TextItem", Content: "hi"}, pageOwner())
	require.NoError(t, err)
	assert.Equal(t, store.KindText, el.Kind)
	assert.Equal(t, "hi", el.Content)
	require.NotNil(t, el.PageID)
	assert.Equal(t, "pg_1", *el.PageID)
	assert.Nil(t, el.WorkspaceID)
	assert.NoError(t, el.Validate())
}

func TestDecodeRequiresExactlyOneContainer(t *testing.T) {
	c, _, _ := newTestCodec()
	rec := document.Element{Type: "text", Content: "x"}

	_, err := c.Decode(context.Background(), rec, Container{})
	assert.ErrorIs(t, err, store.ErrMissingContainer)

	_, err = c.Decode(context.Background(), rec, Container{WorkspaceID: "ws_1", PageID: "pg_1"})
	assert.ErrorIs(t, err, store.ErrMissingContainer)
}

func TestDecodeUnknownType(t *testing.T) {
	c, _, _ := newTestCodec()
	_, err := c.Decode(context.Background(), document.Element{Type: "video"}, pageOwner())

	var unknown *UnknownElementTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "video", unknown.Type)
	assert.False(t, c.Known("video"))
	assert.True(t, c.Known("CheckboxItem"))
}

func TestDecodeImageStoresBlobUnderDeterministicKey(t *testing.T) {
	c, blobs, _ := newTestCodec()
	value := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	el, err := c.Decode(context.Background(), document.Element{Type: "image", Image: value}, pageOwner())
	require.NoError(t, err)
	assert.Equal(t, "images/pg_1/poezdka-"+el.ID+".png", el.BlobKey)

	stored, err := blobs.Get(context.Background(), el.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)
}

func TestDecodeInvalidBase64KeepsElement(t *testing.T) {
	c, blobs, _ := newTestCodec()

	el, err := c.Decode(context.Background(), document.Element{Type: "image", Image: "%%%not-base64"}, pageOwner())
	var invalid *InvalidEncodingError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "image", invalid.Field)
	assert.Equal(t, store.KindImage, el.Kind)
	assert.Empty(t, el.BlobKey)
	assert.NotEmpty(t, el.ID)
	assert.Zero(t, blobs.Len())
}

func TestDecodeFileKeepsNameAndExtension(t *testing.T) {
	c, _, _ := newTestCodec()
	rec := document.Element{Type: "FileItem", File: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), FileName: "plan.pdf"}

	el, err := c.Decode(context.Background(), rec, Container{WorkspaceID: "ws_1", Title: "Trip"})
	require.NoError(t, err)
	assert.Equal(t, "plan.pdf", el.FileName)
	assert.True(t, strings.HasPrefix(el.BlobKey, "files/ws_1/trip-"))
	assert.True(t, strings.HasSuffix(el.BlobKey, ".pdf"))
	require.NotNil(t, el.WorkspaceID)
}

func TestDecodeBlobReference(t *testing.T) {
	c, _, _ := newTestCodec()
	owner := pageOwner()
	owner.Refs = map[string]bool{"images/pg_1/a.png": true}
	el, err := c.Decode(context.Background(), document.Element{Type: "image", Image: "blob:images/pg_1/a.png"}, owner)
	require.NoError(t, err)
	assert.Equal(t, "images/pg_1/a.png", el.BlobKey)
}

func TestDecodeForeignBlobReferenceIsInvalid(t *testing.T) {
	c, blobs, _ := newTestCodec()
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "images/pg_other/secret.png", pngBytes, "image/png"))

	owner := pageOwner()
	owner.Refs = map[string]bool{"images/pg_1/a.png": true}
	el, err := c.Decode(ctx, document.Element{Type: "image", Image: "blob:images/pg_other/secret.png"}, owner)

	var invalid *InvalidEncodingError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, store.KindImage, el.Kind)
	assert.Empty(t, el.BlobKey)
	assert.Empty(t, c.Encode(ctx, el, nil).Image)
	assert.Empty(t, c.CanonicalBinary(ctx, "blob:images/pg_other/secret.png", owner.Refs))
}

func TestNormalizeMatchesStoredForm(t *testing.T) {
	c, blobs, _ := newTestCodec()
	ctx := context.Background()
	unpadded := base64.RawStdEncoding.EncodeToString(append(pngBytes, '!'))

	out, ok := c.Normalize(ctx, document.Element{ID: "el_x", Type: "ImageItem", Image: "data:image/png;base64," + unpadded, Label: "stray"}, nil)
	require.True(t, ok)
	assert.Equal(t, document.Element{Type: document.TypeImage, Image: base64.StdEncoding.EncodeToString(append(pngBytes, '!'))}, out)

	out, ok = c.Normalize(ctx, document.Element{Type: "image", Image: "data:image/png;base64,@@@"}, nil)
	require.True(t, ok)
	assert.Empty(t, out.Image)

	out, ok = c.Normalize(ctx, document.Element{Type: "link", LinkedPage: "  Day 1 "}, nil)
	require.True(t, ok)
	assert.Equal(t, "Day 1", out.LinkedPage)

	_, ok = c.Normalize(ctx, document.Element{Type: "video"}, nil)
	assert.False(t, ok)
	assert.Zero(t, blobs.Len())
}

func TestDeleteBlobsIgnoresMissing(t *testing.T) {
	c, blobs, logs := newTestCodec()
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "images/pg_1/a.png", pngBytes, "image/png"))

	c.DeleteBlobs(ctx, []string{"images/pg_1/a.png", "images/pg_1/gone.png", ""})
	assert.Zero(t, blobs.Len())
	assert.NotContains(t, logs.String(), "delete orphaned blob")
}

func TestEncodeRoundTrip(t *testing.T) {
	c, _, _ := newTestCodec()
	ctx := context.Background()
	value := base64.StdEncoding.EncodeToString(pngBytes)

	el, err := c.Decode(ctx, document.Element{Type: "image", Image: value}, pageOwner())
	require.NoError(t, err)

	out := c.Encode(ctx, el, nil)
	assert.Equal(t, document.TypeImage, out.Type)
	assert.Equal(t, "data:image/png;base64,"+value, out.Image)
	assert.Equal(t, value, document.StripDataURI(out.Image))
}

func TestEncodeMissingBlobIsEmptyAndLogged(t *testing.T) {
	c, _, logs := newTestCodec()
	out := c.Encode(context.Background(), store.Element{ID: "el_1", Kind: store.KindFile, BlobKey: "files/x/gone.pdf", FileName: "gone.pdf"}, nil)

	assert.Empty(t, out.File)
	assert.Equal(t, "gone.pdf", out.FileName)
	assert.Contains(t, logs.String(), "blob unreadable")
}

func TestEncodeCheckboxAndLink(t *testing.T) {
	c, _, _ := newTestCodec()
	ctx := context.Background()

	box := c.Encode(ctx, store.Element{ID: "el_1", Kind: store.KindCheckbox, Label: "pack", Checked: true}, nil)
	assert.Equal(t, "pack", box.Label)
	assert.True(t, box.Checked)

	target := "pg_2"
	link := c.Encode(ctx, store.Element{ID: "el_2", Kind: store.KindLink, LinkedPageID: &target}, map[string]string{"pg_2": "Day 1"})
	assert.Equal(t, "Day 1", link.LinkedPage)

	dangling := c.Encode(ctx, store.Element{ID: "el_3", Kind: store.KindLink}, nil)
	assert.Empty(t, dangling.LinkedPage)
}

func TestDecodeIcon(t *testing.T) {
	c, _, _ := newTestCodec()
	ctx := context.Background()

	key, err := c.DecodeIcon(ctx, base64.StdEncoding.EncodeToString(pngBytes), "icons", Container{PageID: "pg_9", Title: "Day 1"})
	require.NoError(t, err)
	assert.Equal(t, "icons/pg_9/day-1.png", key)
	assert.NotEmpty(t, c.EncodeIcon(ctx, key))

	key, err = c.DecodeIcon(ctx, "", "icons", Container{PageID: "pg_9", Title: "Day 1"})
	require.NoError(t, err)
	assert.Empty(t, key)
}
