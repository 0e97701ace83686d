package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
)

// ErrDocumentNotComparable indicates a comparison references a document
// whose text extraction terminally failed.
var ErrDocumentNotComparable = errors.New("document not comparable")

// Comparisons creates and reads comparison records. The compare task is only
// enqueued once both documents have finished text extraction; until then the
// comparison stays pending and the extraction handler enqueues it on
// completion of the last side.
type Comparisons struct {
	records repository.RecordStore
	blobs   blob.Store
	queue   *queue.Queue
	logger  *log.Logger
}

func NewComparisons(records repository.RecordStore, blobs blob.Store, taskQueue *queue.Queue, logger *log.Logger) *Comparisons {
	return &Comparisons{records: records, blobs: blobs, queue: taskQueue, logger: logger}
}

func (s *Comparisons) Create(ctx context.Context, ownerID, leftID, rightID string) (*domain.Comparison, error) {
	left, err := s.ownedDocument(ctx, leftID, ownerID)
	if err != nil {
		return nil, err
	}
	right, err := s.ownedDocument(ctx, rightID, ownerID)
	if err != nil {
		return nil, err
	}
	if left.Status == domain.DocumentStatusError || right.Status == domain.DocumentStatusError {
		return nil, fmt.Errorf("document with failed extraction: %w", ErrDocumentNotComparable)
	}

	now := time.Now().UTC()
	comparison := &domain.Comparison{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		LeftDocumentID:  left.ID,
		RightDocumentID: right.ID,
		Status:          domain.ComparisonStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.records.CreateComparison(ctx, comparison); err != nil {
		return nil, fmt.Errorf("create comparison: %w", err)
	}

	// Statuses are re-read only after the comparison record exists. Any
	// extraction finishing from here on sees the pending comparison; any
	// extraction that finished before this read is visible here. A rare
	// duplicate compare task from both paths firing is harmless, the compare
	// handler is idempotent.
	left, err = s.records.GetDocument(ctx, left.ID)
	if err != nil {
		return nil, fmt.Errorf("recheck left document: %w", err)
	}
	right, err = s.records.GetDocument(ctx, right.ID)
	if err != nil {
		return nil, fmt.Errorf("recheck right document: %w", err)
	}

	if left.Status == domain.DocumentStatusError || right.Status == domain.DocumentStatusError {
		comparison.Status = domain.ComparisonStatusFailed
		comparison.Summary = "text extraction failed for one of the documents"
		comparison.UpdatedAt = time.Now().UTC()
		if err := s.records.UpdateComparison(ctx, comparison); err != nil {
			return nil, fmt.Errorf("fail comparison: %w", err)
		}
		return comparison, nil
	}

	if left.Status == domain.DocumentStatusProcessed && right.Status == domain.DocumentStatusProcessed {
		_, err := s.queue.Enqueue(ctx, domain.TaskRequest{
			DocumentID:    left.ID,
			CounterpartID: right.ID,
			ComparisonID:  comparison.ID,
			TaskType:      domain.TaskTypeCompare,
		})
		if err != nil {
			return nil, err
		}
	} else if s.logger != nil {
		s.logger.Printf("comparison deferred until extraction completes comparison_id=%s", comparison.ID)
	}

	return comparison, nil
}

func (s *Comparisons) Get(ctx context.Context, comparisonID, requestingOwnerID string) (*domain.Comparison, error) {
	comparison, err := s.records.GetComparison(ctx, comparisonID)
	if err != nil {
		return nil, err
	}
	if comparison.OwnerID != requestingOwnerID {
		return nil, ErrForbidden
	}
	return comparison, nil
}

func (s *Comparisons) List(ctx context.Context, ownerID string) ([]*domain.Comparison, error) {
	return s.records.ListComparisonsByOwner(ctx, ownerID)
}

// Report returns the exported plain-text report for a completed comparison.
func (s *Comparisons) Report(ctx context.Context, comparisonID, requestingOwnerID string) ([]byte, error) {
	comparison, err := s.Get(ctx, comparisonID, requestingOwnerID)
	if err != nil {
		return nil, err
	}
	if comparison.ExportRef == "" {
		return nil, repository.ErrNotFound
	}
	report, err := s.blobs.Get(ctx, comparison.ExportRef)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	return report, nil
}

func (s *Comparisons) ownedDocument(ctx context.Context, documentID, ownerID string) (*domain.Document, error) {
	document, err := s.records.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if document.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return document, nil
}
