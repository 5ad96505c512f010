// Package blob stores message image attachments. Uploads are validated
// before any byte leaves the process: an oversized or non-image payload is
// rejected with no partial state anywhere.
package blob

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/perch-im/perch/internal/domain"
)

// MaxImageBytes is the largest accepted upload.
const MaxImageBytes = 5 * 1024 * 1024

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store persists attachment payloads and resolves them to URLs embeddable
// in messages.
type Store interface {
	// Upload validates and stores the payload, returning its URL.
	Upload(ctx context.Context, name string, data []byte) (string, error)
	// Delete removes a previously uploaded payload. Deleting an unknown
	// URL is an error.
	Delete(ctx context.Context, url string) error
}

// ValidateImage checks size and sniffed content type. It returns the
// detected content type on success.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image payload", domain.ErrValidation)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: image is %d bytes, limit is %d", domain.ErrValidation, len(data), MaxImageBytes)
	}
	ctype := http.DetectContentType(data)
	if _, ok := allowedTypes[ctype]; !ok {
		return "", fmt.Errorf("%w: unsupported image type %q", domain.ErrValidation, ctype)
	}
	return ctype, nil
}

func extFor(ctype string) string {
	return allowedTypes[ctype]
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		name = "image"
	}
	return name
}
