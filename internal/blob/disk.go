package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errUnsafeKey = errors.New("blob key escapes storage root")

// DiskStore is the fallback backend used when object-store credentials are
// not configured. Objects are plain files under a root directory; locators
// are the slash-separated keys, never absolute paths.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root directory is required")
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DiskStore{root: absolute}, nil
}

func (s *DiskStore) Put(ctx context.Context, key string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return key, nil
}

func (s *DiskStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return content, nil
}

func (s *DiskStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *DiskStore) Exists(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.resolve(locator)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

// resolve maps a key onto the root, rejecting anything that would step
// outside of it.
func (s *DiskStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", errUnsafeKey
	}
	target := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", errUnsafeKey
	}
	return target, nil
}
