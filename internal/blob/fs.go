package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/domain"
)

const urlScheme = "blob://"

// FSStore keeps attachments as files under the profile's blob directory.
// URLs are blob://<filename>, resolvable only on this machine.
type FSStore struct {
	dir    string
	logger *zap.Logger
}

func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

func (s *FSStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	ctype, err := ValidateImage(data)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%s-%s%s", sanitizeName(name), uuid.New().String(), extFor(ctype))
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	s.logger.Debug("stored blob", zap.String("file", filename), zap.Int("bytes", len(data)))
	return urlScheme + filename, nil
}

func (s *FSStore) Delete(ctx context.Context, url string) error {
	filename, ok := strings.CutPrefix(url, urlScheme)
	if !ok || filename == "" || strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: malformed blob url %q", domain.ErrValidation, url)
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete blob %s: %w", filename, domain.ErrNotFound)
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Path resolves a blob URL to its file on disk.
func (s *FSStore) Path(url string) (string, error) {
	filename, ok := strings.CutPrefix(url, urlScheme)
	if !ok || filename == "" || strings.ContainsAny(filename, "/\\") {
		return "", fmt.Errorf("%w: malformed blob url %q", domain.ErrValidation, url)
	}
	return filepath.Join(s.dir, filename), nil
}
