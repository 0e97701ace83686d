package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
)

// MemoryRecordStore keeps all records in process memory. Data is lost on
// restart; that is the documented trade-off of running without DATABASE_URL,
// not a bug. A single mutex covers every operation, which also gives the
// dedup check-and-set and task claim their required atomicity.
type MemoryRecordStore struct {
	mu          sync.Mutex
	documents   map[string]*domain.Document
	ownerHash   map[string]string // ownerID+"\x00"+contentHash -> documentID
	tasks       map[string]*domain.QueueTask
	comparisons map[string]*domain.Comparison
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		documents:   make(map[string]*domain.Document),
		ownerHash:   make(map[string]string),
		tasks:       make(map[string]*domain.QueueTask),
		comparisons: make(map[string]*domain.Comparison),
	}
}

func ownerHashKey(ownerID, contentHash string) string {
	return ownerID + "\x00" + contentHash
}

func (s *MemoryRecordStore) CreateDocumentWithTask(
	_ context.Context,
	document *domain.Document,
	task *domain.QueueTask,
) (*domain.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerHashKey(document.OwnerID, document.ContentHash)
	if existingID, ok := s.ownerHash[key]; ok {
		return cloneDocument(s.documents[existingID]), false, nil
	}

	s.documents[document.ID] = cloneDocument(document)
	s.ownerHash[key] = document.ID
	if task != nil {
		s.tasks[task.ID] = cloneTask(task)
	}
	return cloneDocument(document), true, nil
}

func (s *MemoryRecordStore) GetDocument(_ context.Context, documentID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	document, ok := s.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(document), nil
}

func (s *MemoryRecordStore) FindDocumentByOwnerAndHash(
	_ context.Context,
	ownerID, contentHash string,
) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	documentID, ok := s.ownerHash[ownerHashKey(ownerID, contentHash)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(s.documents[documentID]), nil
}

func (s *MemoryRecordStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	documents := make([]*domain.Document, 0)
	for _, document := range s.documents {
		if document.OwnerID == ownerID {
			documents = append(documents, cloneDocument(document))
		}
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].CreatedAt.After(documents[j].CreatedAt)
	})
	return documents, nil
}

func (s *MemoryRecordStore) UpdateDocument(_ context.Context, document *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[document.ID]; !ok {
		return ErrNotFound
	}
	s.documents[document.ID] = cloneDocument(document)
	return nil
}

func (s *MemoryRecordStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	document, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}

	delete(s.documents, documentID)
	delete(s.ownerHash, ownerHashKey(document.OwnerID, document.ContentHash))

	for taskID, task := range s.tasks {
		if task.DocumentID == documentID || task.CounterpartID == documentID {
			delete(s.tasks, taskID)
		}
	}
	for comparisonID, comparison := range s.comparisons {
		if comparison.LeftDocumentID == documentID || comparison.RightDocumentID == documentID {
			delete(s.comparisons, comparisonID)
		}
	}
	return nil
}

func (s *MemoryRecordStore) CreateTask(_ context.Context, task *domain.QueueTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryRecordStore) GetTask(_ context.Context, taskID string) (*domain.QueueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryRecordStore) UpdateTask(_ context.Context, task *domain.QueueTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryRecordStore) ClaimNextTask(
	_ context.Context,
	taskTypes []domain.TaskType,
	now time.Time,
) (*domain.QueueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.QueueTask
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		if !containsTaskType(taskTypes, task.TaskType) {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if best == nil || claimedBefore(task, best) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	claimedAt := now
	best.Status = domain.TaskStatusClaimed
	best.ClaimedAt = &claimedAt
	return cloneTask(best), nil
}

func (s *MemoryRecordStore) ListTasksByStatus(
	_ context.Context,
	status domain.TaskStatus,
	taskTypes []domain.TaskType,
) ([]*domain.QueueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*domain.QueueTask, 0)
	for _, task := range s.tasks {
		if task.Status != status {
			continue
		}
		if len(taskTypes) > 0 && !containsTaskType(taskTypes, task.TaskType) {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ScheduledAt.Before(tasks[j].ScheduledAt)
	})
	return tasks, nil
}

func (s *MemoryRecordStore) ListStaleClaims(_ context.Context, claimedBefore time.Time) ([]*domain.QueueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*domain.QueueTask, 0)
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusClaimed {
			continue
		}
		if task.ClaimedAt != nil && task.ClaimedAt.Before(claimedBefore) {
			tasks = append(tasks, cloneTask(task))
		}
	}
	return tasks, nil
}

func (s *MemoryRecordStore) CreateComparison(_ context.Context, comparison *domain.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.comparisons[comparison.ID] = cloneComparison(comparison)
	return nil
}

func (s *MemoryRecordStore) GetComparison(_ context.Context, comparisonID string) (*domain.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comparison, ok := s.comparisons[comparisonID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneComparison(comparison), nil
}

func (s *MemoryRecordStore) UpdateComparison(_ context.Context, comparison *domain.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comparisons[comparison.ID]; !ok {
		return ErrNotFound
	}
	s.comparisons[comparison.ID] = cloneComparison(comparison)
	return nil
}

func (s *MemoryRecordStore) ListComparisonsByOwner(_ context.Context, ownerID string) ([]*domain.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comparisons := make([]*domain.Comparison, 0)
	for _, comparison := range s.comparisons {
		if comparison.OwnerID == ownerID {
			comparisons = append(comparisons, cloneComparison(comparison))
		}
	}
	sort.Slice(comparisons, func(i, j int) bool {
		return comparisons[i].CreatedAt.After(comparisons[j].CreatedAt)
	})
	return comparisons, nil
}

func (s *MemoryRecordStore) ListPendingComparisonsForDocument(
	_ context.Context,
	documentID string,
) ([]*domain.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comparisons := make([]*domain.Comparison, 0)
	for _, comparison := range s.comparisons {
		if comparison.Status != domain.ComparisonStatusPending {
			continue
		}
		if comparison.LeftDocumentID == documentID || comparison.RightDocumentID == documentID {
			comparisons = append(comparisons, cloneComparison(comparison))
		}
	}
	return comparisons, nil
}

// claimedBefore orders candidate tasks: higher priority first, then oldest
// ScheduledAt, then CreatedAt as the tie-break.
func claimedBefore(a, b *domain.QueueTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func containsTaskType(taskTypes []domain.TaskType, target domain.TaskType) bool {
	for _, taskType := range taskTypes {
		if taskType == target {
			return true
		}
	}
	return false
}

func cloneDocument(document *domain.Document) *domain.Document {
	if document == nil {
		return nil
	}
	clone := *document
	return &clone
}

func cloneTask(task *domain.QueueTask) *domain.QueueTask {
	if task == nil {
		return nil
	}
	clone := *task
	if task.ClaimedAt != nil {
		claimedAt := *task.ClaimedAt
		clone.ClaimedAt = &claimedAt
	}
	if task.CompletedAt != nil {
		completedAt := *task.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

func cloneComparison(comparison *domain.Comparison) *domain.Comparison {
	if comparison == nil {
		return nil
	}
	clone := *comparison
	if comparison.Similarity != nil {
		similarity := *comparison.Similarity
		clone.Similarity = &similarity
	}
	return &clone
}
