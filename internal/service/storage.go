// Package service composes the content addresser, blob store, record store
// and task queue into the upload/fetch/delete API the transport layer calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/cache"
	"github.com/docpare/docpare-back/internal/contentaddr"
	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/policy"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
)

// ErrForbidden indicates the requesting owner does not own the entity.
// Ownership is checked on every operation, reads included.
var ErrForbidden = errors.New("forbidden")

const defaultOpTimeout = 15 * time.Second

type StorageConfig struct {
	UploadRules policy.UploadRules
	OpTimeout   time.Duration
}

type Storage struct {
	records   repository.RecordStore
	blobs     blob.Store
	cache     *cache.BlobCache
	queue     *queue.Queue
	rules     policy.UploadRules
	opTimeout time.Duration
	logger    *log.Logger
}

func NewStorage(
	records repository.RecordStore,
	blobs blob.Store,
	blobCache *cache.BlobCache,
	taskQueue *queue.Queue,
	cfg StorageConfig,
	logger *log.Logger,
) *Storage {
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Storage{
		records:   records,
		blobs:     blobs,
		cache:     blobCache,
		queue:     taskQueue,
		rules:     cfg.UploadRules,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// Upload stores content for ownerID and enqueues text extraction. Identical
// bytes uploaded twice by the same owner resolve to the existing document
// with no new blob write and no new task; the bool reports whether this call
// created the document. If the record insert fails after the blob write, the
// orphaned blob is removed before the error surfaces so callers never see
// partially committed state.
func (s *Storage) Upload(
	ctx context.Context,
	ownerID string,
	content []byte,
	originalName string,
) (*domain.Document, bool, error) {
	category, err := s.rules.Validate(originalName, content)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	contentHash := contentaddr.Hash(content)

	// Fast path: the record already exists. The atomic insert below covers
	// the race where it appears between this check and the insert.
	existing, err := s.records.FindDocumentByOwnerAndHash(ctx, ownerID, contentHash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}

	blobRef, err := s.blobs.Put(ctx, blob.DocumentKey(ownerID, contentHash), content)
	if err != nil {
		return nil, false, fmt.Errorf("store blob: %w", err)
	}

	now := time.Now().UTC()
	document := &domain.Document{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		ContentHash:  contentHash,
		OriginalName: originalName,
		SizeBytes:    int64(len(content)),
		MimeCategory: category,
		BlobRef:      blobRef,
		Status:       domain.DocumentStatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	task := s.queue.Prepare(domain.TaskRequest{
		DocumentID: document.ID,
		TaskType:   domain.TaskTypeExtractText,
	})

	stored, created, err := s.records.CreateDocumentWithTask(ctx, document, task)
	if err != nil {
		// Compensating cleanup: without a record pointing at it, the blob
		// must not outlive this call.
		if deleteErr := s.blobs.Delete(ctx, blobRef); deleteErr != nil && !errors.Is(deleteErr, blob.ErrNotFound) {
			if s.logger != nil {
				s.logger.Printf("orphan blob cleanup failed ref=%s err=%v", blobRef, deleteErr)
			}
		}
		return nil, false, fmt.Errorf("create document: %w", err)
	}
	if !created {
		// Lost the dedup race. The winner's record references the same
		// content-addressed blob, so nothing needs cleaning up.
		return stored, false, nil
	}

	s.queue.Wake(ctx)
	if s.logger != nil {
		s.logger.Printf("document uploaded document_id=%s owner=%s size=%d category=%s",
			stored.ID, ownerID, stored.SizeBytes, category)
	}
	return stored, true, nil
}

// Fetch returns the raw bytes of a document after an ownership check.
func (s *Storage) Fetch(ctx context.Context, documentID, requestingOwnerID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	document, err := s.ownedDocument(ctx, documentID, requestingOwnerID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if content, ok := s.cache.Get(document.ContentHash); ok {
			return content, nil
		}
	}

	content, err := s.blobs.Get(ctx, document.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(document.ContentHash, content)
	}
	return content, nil
}

// Get returns document metadata after an ownership check.
func (s *Storage) Get(ctx context.Context, documentID, requestingOwnerID string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.ownedDocument(ctx, documentID, requestingOwnerID)
}

func (s *Storage) List(ctx context.Context, ownerID string) ([]*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.records.ListDocumentsByOwner(ctx, ownerID)
}

// Delete removes the blob first and only then the record: a record without a
// blob is an orphan pointer, a blob without a record is cleaned up by the
// next delete attempt. Record deletion cascades tasks and comparisons.
func (s *Storage) Delete(ctx context.Context, documentID, requestingOwnerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	document, err := s.ownedDocument(ctx, documentID, requestingOwnerID)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, document.BlobRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(document.ContentHash)
	}
	if err := s.records.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document record: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("document deleted document_id=%s owner=%s", documentID, requestingOwnerID)
	}
	return nil
}

// MarkStandard flags a document as the owner's standard template. Idempotent.
func (s *Storage) MarkStandard(ctx context.Context, documentID, requestingOwnerID string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	document, err := s.ownedDocument(ctx, documentID, requestingOwnerID)
	if err != nil {
		return nil, err
	}
	if document.IsStandard {
		return document, nil
	}

	document.IsStandard = true
	document.UpdatedAt = time.Now().UTC()
	if err := s.records.UpdateDocument(ctx, document); err != nil {
		return nil, fmt.Errorf("mark standard: %w", err)
	}
	return document, nil
}

func (s *Storage) ownedDocument(ctx context.Context, documentID, requestingOwnerID string) (*domain.Document, error) {
	document, err := s.records.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if document.OwnerID != requestingOwnerID {
		return nil, ErrForbidden
	}
	return document, nil
}
