package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/repository"
)

// ExtractTextHandler reads a document's blob and persists its extracted
// text. On success it enqueues compare tasks for any pending comparison
// whose other side has also finished extraction; that is the only ordering
// guarantee between extraction and comparison.
func ExtractTextHandler(records repository.RecordStore, blobs blob.Store) Handler {
	return func(ctx context.Context, task *domain.QueueTask) (HandlerResult, error) {
		document, err := records.GetDocument(ctx, task.DocumentID)
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted while queued; write-after-delete is a no-op.
			return HandlerResult{}, nil
		}
		if err != nil {
			return HandlerResult{}, fmt.Errorf("load document: %w", err)
		}

		if document.ExtractedText == "" {
			document.Status = domain.DocumentStatusProcessing
			document.UpdatedAt = time.Now().UTC()
			if err := records.UpdateDocument(ctx, document); err != nil {
				return HandlerResult{}, fmt.Errorf("mark processing: %w", err)
			}

			content, err := blobs.Get(ctx, document.BlobRef)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("load blob: %w", err)
			}

			document.ExtractedText = extractText(document.MimeCategory, content)
			document.Status = domain.DocumentStatusProcessed
			document.UpdatedAt = time.Now().UTC()
			if err := records.UpdateDocument(ctx, document); err != nil {
				return HandlerResult{}, fmt.Errorf("store extracted text: %w", err)
			}
		}

		pending, err := records.ListPendingComparisonsForDocument(ctx, document.ID)
		if err != nil {
			return HandlerResult{}, fmt.Errorf("list pending comparisons: %w", err)
		}

		result := HandlerResult{}
		for _, comparison := range pending {
			otherID := comparison.LeftDocumentID
			if otherID == document.ID {
				otherID = comparison.RightDocumentID
			}
			other, err := records.GetDocument(ctx, otherID)
			if err != nil {
				continue
			}
			if other.Status != domain.DocumentStatusProcessed {
				continue
			}
			result.Next = append(result.Next, domain.TaskRequest{
				DocumentID:    comparison.LeftDocumentID,
				CounterpartID: comparison.RightDocumentID,
				ComparisonID:  comparison.ID,
				TaskType:      domain.TaskTypeCompare,
			})
		}
		return result, nil
	}
}

// CompareHandler scores the similarity of a comparison's two documents over
// their extracted text and enqueues the export stage. The scoring is a
// deliberately simple bag-of-words Jaccard; the dispatcher contract does not
// depend on it and a richer scorer can be registered in its place.
func CompareHandler(records repository.RecordStore) Handler {
	return func(ctx context.Context, task *domain.QueueTask) (HandlerResult, error) {
		comparison, err := records.GetComparison(ctx, task.ComparisonID)
		if errors.Is(err, repository.ErrNotFound) {
			return HandlerResult{}, nil
		}
		if err != nil {
			return HandlerResult{}, fmt.Errorf("load comparison: %w", err)
		}
		if comparison.Status == domain.ComparisonStatusCompleted {
			return HandlerResult{}, nil
		}

		left, err := records.GetDocument(ctx, comparison.LeftDocumentID)
		if err != nil {
			return HandlerResult{}, fmt.Errorf("load left document: %w", err)
		}
		right, err := records.GetDocument(ctx, comparison.RightDocumentID)
		if err != nil {
			return HandlerResult{}, fmt.Errorf("load right document: %w", err)
		}

		similarity := jaccard(tokenize(left.ExtractedText), tokenize(right.ExtractedText))
		comparison.Similarity = &similarity
		comparison.Summary = summarize(left, right, similarity)
		comparison.Status = domain.ComparisonStatusCompleted
		comparison.UpdatedAt = time.Now().UTC()
		if err := records.UpdateComparison(ctx, comparison); err != nil {
			return HandlerResult{}, fmt.Errorf("store comparison result: %w", err)
		}

		return HandlerResult{Next: []domain.TaskRequest{{
			DocumentID:    comparison.LeftDocumentID,
			CounterpartID: comparison.RightDocumentID,
			ComparisonID:  comparison.ID,
			TaskType:      domain.TaskTypeExport,
			Priority:      -1,
		}}}, nil
	}
}

// ExportHandler renders a completed comparison into a plain-text report
// stored back in the blob store.
func ExportHandler(records repository.RecordStore, blobs blob.Store) Handler {
	return func(ctx context.Context, task *domain.QueueTask) (HandlerResult, error) {
		comparison, err := records.GetComparison(ctx, task.ComparisonID)
		if errors.Is(err, repository.ErrNotFound) {
			return HandlerResult{}, nil
		}
		if err != nil {
			return HandlerResult{}, fmt.Errorf("load comparison: %w", err)
		}
		if comparison.Status != domain.ComparisonStatusCompleted {
			return HandlerResult{}, fmt.Errorf("comparison %s is not completed", comparison.ID)
		}
		if comparison.ExportRef != "" {
			return HandlerResult{}, nil
		}

		report := renderReport(comparison)
		exportRef, err := blobs.Put(ctx, blob.ExportKey(comparison.ID), []byte(report))
		if err != nil {
			return HandlerResult{}, fmt.Errorf("store export: %w", err)
		}

		comparison.ExportRef = exportRef
		comparison.UpdatedAt = time.Now().UTC()
		if err := records.UpdateComparison(ctx, comparison); err != nil {
			return HandlerResult{}, fmt.Errorf("store export ref: %w", err)
		}
		return HandlerResult{}, nil
	}
}

// extractText treats text blobs as-is and salvages printable runs from
// binary formats. Real PDF/Word parsing is out of scope for this layer.
func extractText(category domain.MimeCategory, content []byte) string {
	if category == domain.MimeCategoryText {
		return string(content)
	}

	var builder strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= 4 {
			if builder.Len() > 0 {
				builder.WriteByte(' ')
			}
			builder.WriteString(string(run))
		}
		run = run[:0]
	}
	for _, r := range string(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return builder.String()
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) < 2 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 && len(right) == 0 {
		return 1
	}
	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func summarize(left, right *domain.Document, similarity float64) string {
	leftTokens := tokenize(left.ExtractedText)
	rightTokens := tokenize(right.ExtractedText)

	missing := make([]string, 0)
	for token := range leftTokens {
		if _, ok := rightTokens[token]; !ok {
			missing = append(missing, token)
		}
	}
	sort.Strings(missing)
	if len(missing) > 10 {
		missing = missing[:10]
	}

	summary := fmt.Sprintf("%.0f%% term overlap between %q and %q",
		similarity*100, left.OriginalName, right.OriginalName)
	if len(missing) > 0 {
		summary += "; terms only in the first: " + strings.Join(missing, ", ")
	}
	return summary
}

func renderReport(comparison *domain.Comparison) string {
	var builder strings.Builder
	builder.WriteString("Comparison report\n")
	builder.WriteString("=================\n\n")
	builder.WriteString("Comparison: " + comparison.ID + "\n")
	builder.WriteString("Left document: " + comparison.LeftDocumentID + "\n")
	builder.WriteString("Right document: " + comparison.RightDocumentID + "\n")
	if comparison.Similarity != nil {
		builder.WriteString(fmt.Sprintf("Similarity: %.4f\n", *comparison.Similarity))
	}
	builder.WriteString("\n" + comparison.Summary + "\n")
	return builder.String()
}
