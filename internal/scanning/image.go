package scanning

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/zombor/splitit/internal/storage"
)

var (
	// ErrImage wraps every failure to load or decode the referenced image.
	// It is the caller's input that is wrong, not the analysis service.
	ErrImage = errors.New("image could not be loaded")
	// ErrNoImageSource is returned for a storage key when no storage is configured.
	ErrNoImageSource = errors.New("image is not a data URI and no upload storage is configured")
)

// ImageResolver loads the bytes behind an image reference. A reference is
// either a data URI (gallery picks are sent inline) or a key in upload
// storage (camera shots are uploaded first).
type ImageResolver struct {
	store storage.Storage
}

// NewImageResolver returns a resolver backed by store. store may be nil if
// only data URIs are expected.
func NewImageResolver(store storage.Storage) *ImageResolver {
	return &ImageResolver{store: store}
}

// Resolve returns the image bytes and their content type.
func (r *ImageResolver) Resolve(ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", errors.New("empty image reference")
	}

	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		return decodeDataURI(rest)
	}

	if r.store == nil {
		return nil, "", ErrNoImageSource
	}
	key := strings.TrimPrefix(ref, "file://")
	data, err := r.store.Get(key)
	if err != nil {
		return nil, "", fmt.Errorf("loading image %q: %w", key, err)
	}
	return data, sniffContentType(key, data), nil
}

// decodeDataURI handles the part after "data:", e.g.
// "image/jpeg;base64,/9j/4AAQ...".
func decodeDataURI(rest string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data URI: missing ','")
	}

	params := strings.Split(meta, ";")
	contentType := strings.ToLower(strings.TrimSpace(params[0]))
	if contentType == "" {
		contentType = "image/jpeg"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if !isBase64 {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("unescaping data URI: %w", err)
		}
		return []byte(data), contentType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 image: %w", err)
		}
	}
	return data, contentType, nil
}

// sniffContentType guesses the type of a stored upload from its bytes,
// falling back to the file extension for formats the sniffer does not know.
func sniffContentType(name string, data []byte) string {
	if looksLikeHEIC(data) {
		return "image/heic"
	}
	if detected := http.DetectContentType(data); detected != "application/octet-stream" {
		return strings.TrimSpace(strings.Split(detected, ";")[0])
	}
	return ContentTypeFromName(name)
}

// ContentTypeFromName maps common receipt file extensions to MIME types.
func ContentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// loadPNG resolves ref and normalizes it to PNG for the vision model.
// Errors wrap ErrImage.
func loadPNG(images *ImageResolver, ref string) ([]byte, error) {
	data, contentType, err := images.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImage, err)
	}
	normalized, err := normalizeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImage, err)
	}
	return normalized, nil
}
