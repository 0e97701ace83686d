package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/repository"
	"github.com/google/uuid"
)

func seedStoredDocument(
	t *testing.T,
	records *repository.MemoryRecordStore,
	blobs blob.Store,
	ownerID, name, content string,
) *domain.Document {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	key := blob.DocumentKey(ownerID, uuid.NewString())
	blobRef, err := blobs.Put(ctx, key, []byte(content))
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}

	document := &domain.Document{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		ContentHash:  uuid.NewString(),
		OriginalName: name,
		SizeBytes:    int64(len(content)),
		MimeCategory: domain.MimeCategoryText,
		BlobRef:      blobRef,
		Status:       domain.DocumentStatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, _, err := records.CreateDocumentWithTask(ctx, document, nil); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return document
}

func TestExtractTextHandlerSetsTextAndStatus(t *testing.T) {
	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	ctx := context.Background()

	document := seedStoredDocument(t, records, blobs, "alice", "nda.txt", "hello-nda")
	handler := ExtractTextHandler(records, blobs)

	result, err := handler(ctx, &domain.QueueTask{DocumentID: document.ID, TaskType: domain.TaskTypeExtractText})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(result.Next) != 0 {
		t.Fatalf("expected no follow-ups without pending comparisons, got %+v", result.Next)
	}

	updated, err := records.GetDocument(ctx, document.ID)
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	if updated.ExtractedText != "hello-nda" {
		t.Fatalf("unexpected extracted text: %q", updated.ExtractedText)
	}
	if updated.Status != domain.DocumentStatusProcessed {
		t.Fatalf("expected processed, got %s", updated.Status)
	}
}

func TestExtractTextHandlerIsNoOpForDeletedDocument(t *testing.T) {
	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}

	handler := ExtractTextHandler(records, blobs)
	if _, err := handler(context.Background(), &domain.QueueTask{DocumentID: uuid.NewString()}); err != nil {
		t.Fatalf("expected no-op for missing document, got %v", err)
	}
}

func TestExtractTextHandlerEnqueuesReadyComparisons(t *testing.T) {
	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	ctx := context.Background()

	left := seedStoredDocument(t, records, blobs, "alice", "left.txt", "alpha beta gamma")
	right := seedStoredDocument(t, records, blobs, "alice", "right.txt", "alpha beta delta")

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
	if err := records.CreateComparison(ctx, comparison); err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	handler := ExtractTextHandler(records, blobs)

	// First side finishes: the counterpart is not processed yet, nothing
	// gets chained.
	result, err := handler(ctx, &domain.QueueTask{DocumentID: left.ID})
	if err != nil {
		t.Fatalf("left extraction failed: %v", err)
	}
	if len(result.Next) != 0 {
		t.Fatalf("compare chained before both sides were extracted: %+v", result.Next)
	}

	// Second side finishes: now the comparison is ready.
	result, err = handler(ctx, &domain.QueueTask{DocumentID: right.ID})
	if err != nil {
		t.Fatalf("right extraction failed: %v", err)
	}
	if len(result.Next) != 1 {
		t.Fatalf("expected one compare follow-up, got %+v", result.Next)
	}
	next := result.Next[0]
	if next.TaskType != domain.TaskTypeCompare || next.ComparisonID != comparison.ID {
		t.Fatalf("unexpected follow-up: %+v", next)
	}
}

func TestCompareHandlerScoresAndChainsExport(t *testing.T) {
	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	ctx := context.Background()

	left := seedStoredDocument(t, records, blobs, "alice", "left.txt", "confidential information agreement")
	right := seedStoredDocument(t, records, blobs, "alice", "right.txt", "confidential information waiver")
	extract := ExtractTextHandler(records, blobs)
	for _, document := range []*domain.Document{left, right} {
		if _, err := extract(ctx, &domain.QueueTask{DocumentID: document.ID}); err != nil {
			t.Fatalf("extraction failed: %v", err)
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
	if err := records.CreateComparison(ctx, comparison); err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	handler := CompareHandler(records)
	result, err := handler(ctx, &domain.QueueTask{ComparisonID: comparison.ID, TaskType: domain.TaskTypeCompare})
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(result.Next) != 1 || result.Next[0].TaskType != domain.TaskTypeExport {
		t.Fatalf("expected export follow-up, got %+v", result.Next)
	}

	updated, err := records.GetComparison(ctx, comparison.ID)
	if err != nil {
		t.Fatalf("load comparison: %v", err)
	}
	if updated.Status != domain.ComparisonStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if updated.Similarity == nil {
		t.Fatalf("expected similarity to be set")
	}
	// {confidential, information} of 4 distinct terms.
	if *updated.Similarity < 0.49 || *updated.Similarity > 0.51 {
		t.Fatalf("expected similarity ~0.5, got %f", *updated.Similarity)
	}
	if !strings.Contains(updated.Summary, "left.txt") {
		t.Fatalf("summary should name the documents: %q", updated.Summary)
	}
}

func TestExportHandlerWritesReport(t *testing.T) {
	records := repository.NewMemoryRecordStore()
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("create disk store: %v", err)
	}
	ctx := context.Background()

	similarity := 0.75
	now := time.Now().UTC()
	comparison := &domain.Comparison{
		ID:              uuid.NewString(),
		OwnerID:         "alice",
		LeftDocumentID:  uuid.NewString(),
		RightDocumentID: uuid.NewString(),
		Status:          domain.ComparisonStatusCompleted,
		Similarity:      &similarity,
		Summary:         "75% term overlap",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := records.CreateComparison(ctx, comparison); err != nil {
		t.Fatalf("create comparison: %v", err)
	}

	handler := ExportHandler(records, blobs)
	if _, err := handler(ctx, &domain.QueueTask{ComparisonID: comparison.ID, TaskType: domain.TaskTypeExport}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	updated, err := records.GetComparison(ctx, comparison.ID)
	if err != nil {
		t.Fatalf("load comparison: %v", err)
	}
	if updated.ExportRef == "" {
		t.Fatalf("expected export ref to be set")
	}
	report, err := blobs.Get(ctx, updated.ExportRef)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "0.7500") {
		t.Fatalf("report missing similarity: %q", report)
	}

	// Idempotent: a second run must not rewrite the artifact.
	if _, err := handler(ctx, &domain.QueueTask{ComparisonID: comparison.ID, TaskType: domain.TaskTypeExport}); err != nil {
		t.Fatalf("second export failed: %v", err)
	}
}

func TestExtractTextSalvagesPrintableRunsFromBinary(t *testing.T) {
	content := append([]byte("%PDF-1.7\x00\x01\x02"), []byte("Confidentiality Agreement\x00\xff between the parties")...)
	text := extractText(domain.MimeCategoryPDF, content)
	if !strings.Contains(text, "Confidentiality Agreement") {
		t.Fatalf("expected printable run preserved, got %q", text)
	}
	if strings.ContainsRune(text, 0x00) {
		t.Fatalf("binary bytes leaked into extracted text: %q", text)
	}
}

func TestJaccardBounds(t *testing.T) {
	if got := jaccard(tokenize("alpha beta gamma"), tokenize("alpha beta gamma")); got != 1 {
		t.Fatalf("identical texts should score 1, got %f", got)
	}
	if got := jaccard(tokenize("alpha beta"), tokenize("gamma delta")); got != 0 {
		t.Fatalf("disjoint texts should score 0, got %f", got)
	}
	if got := jaccard(tokenize(""), tokenize("")); got != 1 {
		t.Fatalf("two empty texts are identical, got %f", got)
	}
}
