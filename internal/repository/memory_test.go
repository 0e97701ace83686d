package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/google/uuid"
)

func newTestDocument(ownerID, contentHash string) *domain.Document {
	now := time.Now().UTC()
	return &domain.Document{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		ContentHash:  contentHash,
		OriginalName: "contract.txt",
		SizeBytes:    9,
		MimeCategory: domain.MimeCategoryText,
		BlobRef:      "owners/" + ownerID + "/" + contentHash,
		Status:       domain.DocumentStatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestTask(documentID string, taskType domain.TaskType, priority int, scheduledAt time.Time) *domain.QueueTask {
	return &domain.QueueTask{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		TaskType:    taskType,
		Priority:    priority,
		Status:      domain.TaskStatusQueued,
		MaxAttempts: 3,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt,
	}
}

func TestCreateDocumentWithTaskDedupsByOwnerAndHash(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	first := newTestDocument("alice", "hash-1")
	created, wasCreated, err := store.CreateDocumentWithTask(ctx, first, newTestTask(first.ID, domain.TaskTypeExtractText, 0, first.CreatedAt))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if !wasCreated {
		t.Fatalf("expected first create to report created")
	}

	duplicate := newTestDocument("alice", "hash-1")
	resolved, wasCreated, err := store.CreateDocumentWithTask(ctx, duplicate, newTestTask(duplicate.ID, domain.TaskTypeExtractText, 0, duplicate.CreatedAt))
	if err != nil {
		t.Fatalf("duplicate create failed: %v", err)
	}
	if wasCreated {
		t.Fatalf("expected duplicate create to resolve to the existing document")
	}
	if resolved.ID != created.ID {
		t.Fatalf("expected existing id %s, got %s", created.ID, resolved.ID)
	}

	// The loser's task must not have been stored.
	tasks, err := store.ListTasksByStatus(ctx, domain.TaskStatusQueued, nil)
	if err != nil {
		t.Fatalf("list tasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly 1 queued task, got %d", len(tasks))
	}

	// A different owner uploading the same bytes gets a distinct document.
	other := newTestDocument("bob", "hash-1")
	_, wasCreated, err = store.CreateDocumentWithTask(ctx, other, nil)
	if err != nil {
		t.Fatalf("create for other owner failed: %v", err)
	}
	if !wasCreated {
		t.Fatalf("expected distinct document for a different owner")
	}
}

func TestCreateDocumentWithTaskConcurrentUploads(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	createdCount := make(chan bool, racers)
	ids := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			document := newTestDocument("alice", "contended-hash")
			resolved, wasCreated, err := store.CreateDocumentWithTask(ctx, document, newTestTask(document.ID, domain.TaskTypeExtractText, 0, document.CreatedAt))
			if err != nil {
				t.Errorf("create failed: %v", err)
				return
			}
			createdCount <- wasCreated
			ids <- resolved.ID
		}()
	}
	wg.Wait()
	close(createdCount)
	close(ids)

	winners := 0
	for wasCreated := range createdCount {
		if wasCreated {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one racer to create the document, got %d", winners)
	}

	var canonical string
	for id := range ids {
		if canonical == "" {
			canonical = id
		}
		if id != canonical {
			t.Fatalf("racers resolved to different documents: %s vs %s", canonical, id)
		}
	}
}

func TestClaimNextTaskOrderingAndExclusivity(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	document := newTestDocument("alice", "hash-claim")
	if _, _, err := store.CreateDocumentWithTask(ctx, document, nil); err != nil {
		t.Fatalf("create document failed: %v", err)
	}

	low := newTestTask(document.ID, domain.TaskTypeExtractText, 0, base)
	highLate := newTestTask(document.ID, domain.TaskTypeExtractText, 5, base.Add(10*time.Second))
	highEarly := newTestTask(document.ID, domain.TaskTypeExtractText, 5, base.Add(5*time.Second))
	for _, task := range []*domain.QueueTask{low, highLate, highEarly} {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task failed: %v", err)
		}
	}

	now := time.Now().UTC()
	first, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if first.ID != highEarly.ID {
		t.Fatalf("expected highest priority earliest task %s, got %s", highEarly.ID, first.ID)
	}
	if first.Status != domain.TaskStatusClaimed || first.ClaimedAt == nil {
		t.Fatalf("claimed task not transitioned: %+v", first)
	}

	second, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if second.ID != highLate.ID {
		t.Fatalf("expected %s second, got %s", highLate.ID, second.ID)
	}

	third, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if third.ID != low.ID {
		t.Fatalf("expected %s third, got %s", low.ID, third.ID)
	}

	empty, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected empty claim, got %+v", empty)
	}
}

func TestClaimNextTaskSingleTaskManyWorkers(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	document := newTestDocument("alice", "hash-race")
	if _, _, err := store.CreateDocumentWithTask(ctx, document, nil); err != nil {
		t.Fatalf("create document failed: %v", err)
	}
	task := newTestTask(document.ID, domain.TaskTypeExtractText, 0, time.Now().UTC().Add(-time.Second))
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	claims := make(chan *domain.QueueTask, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, time.Now().UTC())
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if claimed != nil {
				claims <- claimed
			}
		}()
	}
	wg.Wait()
	close(claims)

	total := 0
	for range claims {
		total++
	}
	if total != 1 {
		t.Fatalf("expected exactly one worker to claim the task, got %d", total)
	}
}

func TestClaimNextTaskRespectsScheduledAt(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	document := newTestDocument("alice", "hash-delayed")
	if _, _, err := store.CreateDocumentWithTask(ctx, document, nil); err != nil {
		t.Fatalf("create document failed: %v", err)
	}
	future := newTestTask(document.ID, domain.TaskTypeExtractText, 0, time.Now().UTC().Add(time.Hour))
	if err := store.CreateTask(ctx, future); err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	claimed, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, time.Now().UTC())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("backed-off task should not be claimable yet, got %+v", claimed)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	left := newTestDocument("alice", "hash-left")
	right := newTestDocument("alice", "hash-right")
	for _, document := range []*domain.Document{left, right} {
		if _, _, err := store.CreateDocumentWithTask(ctx, document, newTestTask(document.ID, domain.TaskTypeExtractText, 0, document.CreatedAt)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	now := time.Now().UTC()
	comparison := &domain.Comparison{
		ID:              uuid.NewString(),
		OwnerID:         "alice",
		LeftDocumentID:  left.ID,
		RightDocumentID: right.ID,
		Status:          domain.ComparisonStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateComparison(ctx, comparison); err != nil {
		t.Fatalf("create comparison failed: %v", err)
	}

	if err := store.DeleteDocument(ctx, left.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := store.GetDocument(ctx, left.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for deleted document, got %v", err)
	}
	if _, err := store.GetComparison(ctx, comparison.ID); err != ErrNotFound {
		t.Fatalf("expected comparison cascade delete, got %v", err)
	}

	tasks, err := store.ListTasksByStatus(ctx, domain.TaskStatusQueued, nil)
	if err != nil {
		t.Fatalf("list tasks failed: %v", err)
	}
	for _, task := range tasks {
		if task.DocumentID == left.ID {
			t.Fatalf("task %s survived document delete", task.ID)
		}
	}

	// Re-uploading the same content after delete creates a fresh document.
	again := newTestDocument("alice", "hash-left")
	_, wasCreated, err := store.CreateDocumentWithTask(ctx, again, nil)
	if err != nil {
		t.Fatalf("re-create failed: %v", err)
	}
	if !wasCreated {
		t.Fatalf("expected re-upload after delete to create a new document")
	}
}

func TestListStaleClaims(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	document := newTestDocument("alice", "hash-stale")
	if _, _, err := store.CreateDocumentWithTask(ctx, document, nil); err != nil {
		t.Fatalf("create document failed: %v", err)
	}
	task := newTestTask(document.ID, domain.TaskTypeExtractText, 0, time.Now().UTC().Add(-time.Hour))
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	claimed, err := store.ClaimNextTask(ctx, []domain.TaskType{domain.TaskTypeExtractText}, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed == nil {
		t.Fatalf("expected claim to succeed")
	}

	stale, err := store.ListStaleClaims(ctx, time.Now().UTC().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("list stale failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != task.ID {
		t.Fatalf("expected the claimed task to be reported stale, got %+v", stale)
	}

	fresh, err := store.ListStaleClaims(ctx, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("list stale failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected no stale claims with an older cutoff, got %d", len(fresh))
	}
}
