// Package repository persists documents, comparisons and queue tasks behind
// one query contract with two backends: Postgres for durable deployments and
// an in-memory store for local development. Both expose identical logical
// fields and identical error conditions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// RecordStore abstracts structured persistence for all entities.
//
// Two operations carry atomicity requirements that callers rely on:
//
//   - CreateDocumentWithTask: the dedup check on (owner, content hash) and the
//     conditional insert of document plus task happen as one unit, so two
//     concurrent uploads of identical content resolve to a single document.
//     It returns the stored document and whether this call created it.
//   - ClaimNextTask: selects the best queued task among the given types whose
//     ScheduledAt has passed (priority descending, then ScheduledAt ascending)
//     and transitions it to claimed. No two callers can claim the same task;
//     a nil task with nil error means nothing was claimable.
//
// Deleting a document cascades its queue tasks and comparisons.
type RecordStore interface {
	CreateDocumentWithTask(ctx context.Context, document *domain.Document, task *domain.QueueTask) (*domain.Document, bool, error)
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	FindDocumentByOwnerAndHash(ctx context.Context, ownerID, contentHash string) (*domain.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]*domain.Document, error)
	UpdateDocument(ctx context.Context, document *domain.Document) error
	DeleteDocument(ctx context.Context, documentID string) error

	CreateTask(ctx context.Context, task *domain.QueueTask) error
	GetTask(ctx context.Context, taskID string) (*domain.QueueTask, error)
	UpdateTask(ctx context.Context, task *domain.QueueTask) error
	ClaimNextTask(ctx context.Context, taskTypes []domain.TaskType, now time.Time) (*domain.QueueTask, error)
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus, taskTypes []domain.TaskType) ([]*domain.QueueTask, error)
	ListStaleClaims(ctx context.Context, claimedBefore time.Time) ([]*domain.QueueTask, error)

	CreateComparison(ctx context.Context, comparison *domain.Comparison) error
	GetComparison(ctx context.Context, comparisonID string) (*domain.Comparison, error)
	UpdateComparison(ctx context.Context, comparison *domain.Comparison) error
	ListComparisonsByOwner(ctx context.Context, ownerID string) ([]*domain.Comparison, error)
	ListPendingComparisonsForDocument(ctx context.Context, documentID string) ([]*domain.Comparison, error)
}
