package element

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"mindnote/api/internal/blob"
	"mindnote/api/internal/document"
	"mindnote/api/internal/util"
)

// BlobRefPrefix marks a binary field that already points at a stored blob.
const BlobRefPrefix = "blob:"

var (
	errEmptyPayload = errors.New("empty payload")
	errForeignBlob  = errors.New("blob reference not owned by this workspace")
)

var extensionsByMime = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/svg+xml":   ".svg",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

type payload struct {
	data        []byte
	contentType string
}

// decodeBase64 accepts a data URI or bare base64, padded or not.
func decodeBase64(value string) (payload, error) {
	declared := ""
	if strings.HasPrefix(value, "data:") {
		header := value[len("data:"):]
		if i := strings.IndexAny(header, ";,"); i >= 0 {
			declared = header[:i]
		}
	}
	raw := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, document.StripDataURI(value))
	if raw == "" {
		return payload{}, errEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "=")); rawErr != nil {
			return payload{}, err
		}
	}
	contentType := declared
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return payload{data: data, contentType: contentType}, nil
}

func extensionFor(contentType, fileName string) string {
	if ext := path.Ext(fileName); ext != "" {
		return strings.ToLower(ext)
	}
	if ext, ok := extensionsByMime[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			return ct[:i]
		}
		return ct
	}
	return "application/octet-stream"
}

// blobKey builds the deterministic storage key of a binary field: the
// owning container id, the transliterated title and a discriminator.
func blobKey(folder, containerID, title, discriminator, ext string) string {
	name := util.Slugify(title)
	if discriminator != "" {
		name += "-" + discriminator
	}
	return fmt.Sprintf("%s/%s/%s%s", folder, containerID, name, ext)
}

// storeBinary persists a wire binary value and returns its blob key. An
// empty value yields an empty key. A blob reference is kept only when the
// owner already references that key.
func (c *Codec) storeBinary(ctx context.Context, field, value, folder string, owner Container, discriminator, fileName string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if strings.HasPrefix(value, BlobRefPrefix) {
		key := strings.TrimPrefix(value, BlobRefPrefix)
		if !owner.Refs[key] {
			return "", &InvalidEncodingError{Field: field, Err: errForeignBlob}
		}
		return key, nil
	}
	decoded, err := decodeBase64(value)
	if errors.Is(err, errEmptyPayload) {
		return "", nil
	}
	if err != nil {
		return "", &InvalidEncodingError{Field: field, Err: err}
	}
	key := blobKey(folder, owner.ID(), owner.Title, discriminator, extensionFor(decoded.contentType, fileName))
	if err := c.blobs.Put(ctx, key, decoded.data, decoded.contentType); err != nil {
		return "", err
	}
	return key, nil
}

// loadBinary renders a stored blob as a data URI. Missing or unreadable
// blobs encode as an empty string.
func (c *Codec) loadBinary(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	data, err := c.blobs.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("blob_key", key).Msg("blob unreadable, encoding empty")
		return ""
	}
	return "data:" + contentTypeFor(key) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// CanonicalBinary returns the base64 payload value would read back as once
// stored, without a data URI prefix. Nothing is written. Invalid payloads
// and blob references outside refs read back empty.
func (c *Codec) CanonicalBinary(ctx context.Context, value string, refs map[string]bool) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, BlobRefPrefix) {
		key := strings.TrimPrefix(value, BlobRefPrefix)
		if !refs[key] {
			return ""
		}
		return document.StripDataURI(c.loadBinary(ctx, key))
	}
	decoded, err := decodeBase64(value)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(decoded.data)
}

// DeleteBlobs removes blobs nothing references any more. Failures are
// logged; a missing blob is not a failure.
func (c *Codec) DeleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := c.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			c.log.Warn().Err(err).Str("blob_key", key).Msg("delete orphaned blob")
		}
	}
}
