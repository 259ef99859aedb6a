// Package blob stores uploaded avatars on the local filesystem and hands out
// public URLs for them. The server exposes the root under /static/avatars.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"go-exam-portal/internal/model"
	"go-exam-portal/pkg/apierror"
)

type LocalStore struct {
	rootAbs string
	baseURL string
}

func NewLocalStore(root string, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root cannot be empty")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}

	if err := os.MkdirAll(rootAbs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}

	return &LocalStore{rootAbs: rootAbs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) RootAbs() string {
	return s.rootAbs
}

// Upload copies the file at localPath into the store under a fresh name and
// returns its public URL. The source file is left in place.
func (s *LocalStore) Upload(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	name := uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
	target := filepath.Join(s.rootAbs, name)

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("close blob: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

// Delete removes the blob addressed by url, keyed by its last path segment.
// URLs that were not issued by this store are ignored.
func (s *LocalStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.baseURL == "" || !strings.HasPrefix(url, s.baseURL+"/") {
		return nil
	}

	target, err := s.resolveName(url[strings.LastIndex(url, "/")+1:])
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", model.ErrBlobNotFound, url)
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *LocalStore) resolveName(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || hasControlCharacters(name) {
		return "", apierror.New(apierror.CodeValidation, "invalid blob name", name, http.StatusBadRequest)
	}

	resolved := filepath.Join(s.rootAbs, name)
	if filepath.Dir(resolved) != s.rootAbs {
		return "", apierror.New(apierror.CodeValidation, "blob name escapes root", name, http.StatusBadRequest)
	}
	return resolved, nil
}

func hasControlCharacters(value string) bool {
	for _, char := range value {
		if unicode.IsControl(char) {
			return true
		}
	}

	return false
}
