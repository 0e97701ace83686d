package service

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/cache"
	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/policy"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
)

func newTestComparisons(t *testing.T) (*Comparisons, *Storage, *repository.MemoryRecordStore, blob.Store) {
	t.Helper()

	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	taskQueue := queue.New(records, queue.NewLocalNotifier(), queue.Config{}, logger)
	storage := NewStorage(records, blobs, cache.NewBlobCache(cache.Config{}), taskQueue, StorageConfig{
		UploadRules: policy.NewUploadRules(0),
	}, logger)
	comparisons := NewComparisons(records, blobs, taskQueue, logger)
	return comparisons, storage, records, blobs
}

func markProcessed(t *testing.T, records *repository.MemoryRecordStore, document *domain.Document) {
	t.Helper()
	document.Status = domain.DocumentStatusProcessed
	document.ExtractedText = "extracted " + document.OriginalName
	document.UpdatedAt = time.Now().UTC()
	if err := records.UpdateDocument(context.Background(), document); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
}

func TestCreateComparisonEnqueuesWhenBothSidesProcessed(t *testing.T) {
	comparisons, storage, records, _ := newTestComparisons(t)
	ctx := context.Background()

	left, _, err := storage.Upload(ctx, "alice", []byte("left body"), "left.txt")
	if err != nil {
		t.Fatalf("upload left: %v", err)
	}
	right, _, err := storage.Upload(ctx, "alice", []byte("right body"), "right.txt")
	if err != nil {
		t.Fatalf("upload right: %v", err)
	}
	markProcessed(t, records, left)
	markProcessed(t, records, right)

	comparison, err := comparisons.Create(ctx, "alice", left.ID, right.ID)
	if err != nil {
		t.Fatalf("create comparison: %v", err)
	}
	if comparison.Status != domain.ComparisonStatusPending {
		t.Fatalf("expected pending, got %s", comparison.Status)
	}

	tasks, err := records.ListTasksByStatus(ctx, domain.TaskStatusQueued, []domain.TaskType{domain.TaskTypeCompare})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ComparisonID != comparison.ID {
		t.Fatalf("expected one compare task for the comparison, got %+v", tasks)
	}
}

func TestCreateComparisonDefersUntilExtractionFinishes(t *testing.T) {
	comparisons, storage, records, _ := newTestComparisons(t)
	ctx := context.Background()

	left, _, err := storage.Upload(ctx, "alice", []byte("left body"), "left.txt")
	if err != nil {
		t.Fatalf("upload left: %v", err)
	}
	right, _, err := storage.Upload(ctx, "alice", []byte("right body"), "right.txt")
	if err != nil {
		t.Fatalf("upload right: %v", err)
	}
	markProcessed(t, records, left)

	comparison, err := comparisons.Create(ctx, "alice", left.ID, right.ID)
	if err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	tasks, err := records.ListTasksByStatus(ctx, domain.TaskStatusQueued, []domain.TaskType{domain.TaskTypeCompare})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("compare must wait for extraction, got %+v", tasks)
	}

	pending, err := records.ListPendingComparisonsForDocument(ctx, right.ID)
	if err != nil {
		t.Fatalf("list pending comparisons: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != comparison.ID {
		t.Fatalf("expected the deferred comparison pending on the right document, got %+v", pending)
	}
}

func TestCreateComparisonRejectsErroredDocument(t *testing.T) {
	comparisons, storage, records, _ := newTestComparisons(t)
	ctx := context.Background()

	good, _, err := storage.Upload(ctx, "alice", []byte("good body"), "good.txt")
	if err != nil {
		t.Fatalf("upload good: %v", err)
	}
	bad, _, err := storage.Upload(ctx, "alice", []byte("bad body"), "bad.txt")
	if err != nil {
		t.Fatalf("upload bad: %v", err)
	}
	markProcessed(t, records, good)
	bad.Status = domain.DocumentStatusError
	bad.UpdatedAt = time.Now().UTC()
	if err := records.UpdateDocument(ctx, bad); err != nil {
		t.Fatalf("mark errored: %v", err)
	}

	if _, err := comparisons.Create(ctx, "alice", good.ID, bad.ID); !errors.Is(err, ErrDocumentNotComparable) {
		t.Fatalf("expected ErrDocumentNotComparable, got %v", err)
	}

	// Nothing must linger: no comparison record waiting on an extraction
	// that will never run, and no compare task.
	listed, err := comparisons.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list comparisons: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no comparison records, got %+v", listed)
	}
	tasks, err := records.ListTasksByStatus(ctx, domain.TaskStatusQueued, []domain.TaskType{domain.TaskTypeCompare})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no compare tasks, got %+v", tasks)
	}
}

type extractionRacingStore struct {
	*repository.MemoryRecordStore
	beforeCreate func()
}

func (s *extractionRacingStore) CreateComparison(ctx context.Context, comparison *domain.Comparison) error {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	return s.MemoryRecordStore.CreateComparison(ctx, comparison)
}

func TestCreateComparisonEnqueuesWhenExtractionFinishesDuringCreate(t *testing.T) {
	memory := repository.NewMemoryRecordStore()
	racing := &extractionRacingStore{MemoryRecordStore: memory}
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	taskQueue := queue.New(racing, queue.NewLocalNotifier(), queue.Config{}, logger)
	storage := NewStorage(memory, blobs, cache.NewBlobCache(cache.Config{}), taskQueue, StorageConfig{
		UploadRules: policy.NewUploadRules(0),
	}, logger)
	comparisons := NewComparisons(racing, blobs, taskQueue, logger)
	ctx := context.Background()

	left, _, err := storage.Upload(ctx, "alice", []byte("left body"), "left.txt")
	if err != nil {
		t.Fatalf("upload left: %v", err)
	}
	right, _, err := storage.Upload(ctx, "alice", []byte("right body"), "right.txt")
	if err != nil {
		t.Fatalf("upload right: %v", err)
	}
	markProcessed(t, memory, left)

	// The right document finishes extraction between Create's first status
	// read and the comparison insert. The post-insert recheck must still
	// enqueue the compare task.
	racing.beforeCreate = func() {
		markProcessed(t, memory, right)
	}

	comparison, err := comparisons.Create(ctx, "alice", left.ID, right.ID)
	if err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	tasks, err := memory.ListTasksByStatus(ctx, domain.TaskStatusQueued, []domain.TaskType{domain.TaskTypeCompare})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ComparisonID != comparison.ID {
		t.Fatalf("expected the recheck to enqueue one compare task, got %+v", tasks)
	}
}

func TestCreateComparisonEnforcesOwnership(t *testing.T) {
	comparisons, storage, records, _ := newTestComparisons(t)
	ctx := context.Background()

	mine, _, err := storage.Upload(ctx, "alice", []byte("mine"), "mine.txt")
	if err != nil {
		t.Fatalf("upload mine: %v", err)
	}
	theirs, _, err := storage.Upload(ctx, "bob", []byte("theirs"), "theirs.txt")
	if err != nil {
		t.Fatalf("upload theirs: %v", err)
	}
	markProcessed(t, records, mine)
	markProcessed(t, records, theirs)

	if _, err := comparisons.Create(ctx, "alice", mine.ID, theirs.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestComparisonReadAndReportOwnership(t *testing.T) {
	comparisons, storage, records, blobs := newTestComparisons(t)
	ctx := context.Background()

	left, _, err := storage.Upload(ctx, "alice", []byte("left body"), "left.txt")
	if err != nil {
		t.Fatalf("upload left: %v", err)
	}
	right, _, err := storage.Upload(ctx, "alice", []byte("right body"), "right.txt")
	if err != nil {
		t.Fatalf("upload right: %v", err)
	}
	markProcessed(t, records, left)
	markProcessed(t, records, right)

	comparison, err := comparisons.Create(ctx, "alice", left.ID, right.ID)
	if err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	if _, err := comparisons.Get(ctx, comparison.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-owner get: expected ErrForbidden, got %v", err)
	}

	// No export yet.
	if _, err := comparisons.Report(ctx, comparison.ID, "alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("report before export: expected ErrNotFound, got %v", err)
	}

	exportRef, err := blobs.Put(ctx, blob.ExportKey(comparison.ID), []byte("report body"))
	if err != nil {
		t.Fatalf("store report: %v", err)
	}
	comparison.ExportRef = exportRef
	if err := records.UpdateComparison(ctx, comparison); err != nil {
		t.Fatalf("update comparison: %v", err)
	}

	report, err := comparisons.Report(ctx, comparison.ID, "alice")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if string(report) != "report body" {
		t.Fatalf("unexpected report body: %q", report)
	}
}
