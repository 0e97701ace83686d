package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore stores blobs as objects in a Google Cloud Storage bucket.
// Network failures are returned wrapped and should be treated as retryable
// by the caller.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put writes the object only if it does not already exist. Content-addressed
// keys make a precondition failure equivalent to success: the bytes are
// already there.
func (s *GCSStore) Put(ctx context.Context, key string, content []byte) (string, error) {
	writer := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return key, nil
		}
		return "", fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return key, nil
		}
		return "", fmt.Errorf("finalize gcs object %s: %w", key, err)
	}
	return key, nil
}

func (s *GCSStore) Get(ctx context.Context, locator string) ([]byte, error) {
	reader, err := s.bucket.Object(locator).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gcs object %s: %w", locator, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", locator, err)
	}
	return content, nil
}

func (s *GCSStore) Delete(ctx context.Context, locator string) error {
	if err := s.bucket.Object(locator).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete gcs object %s: %w", locator, err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := s.bucket.Object(locator).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat gcs object %s: %w", locator, err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 412
}
