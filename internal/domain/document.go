package domain

import "time"

type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusError      DocumentStatus = "error"
)

type MimeCategory string

const (
	MimeCategoryPDF  MimeCategory = "pdf"
	MimeCategoryWord MimeCategory = "word"
	MimeCategoryText MimeCategory = "text"
)

// Document is the stored metadata for one uploaded file. The raw bytes live
// in the blob store under BlobRef; (OwnerID, ContentHash) is unique, so a
// re-upload of identical bytes by the same owner resolves to the same record.
type Document struct {
	ID            string
	OwnerID       string
	ContentHash   string
	OriginalName  string
	SizeBytes     int64
	MimeCategory  MimeCategory
	BlobRef       string
	Status        DocumentStatus
	ExtractedText string
	IsStandard    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ComparisonStatus string

const (
	ComparisonStatusPending   ComparisonStatus = "pending"
	ComparisonStatusCompleted ComparisonStatus = "completed"
	ComparisonStatusFailed    ComparisonStatus = "failed"
)

// Comparison joins two documents of one owner with the similarity result
// produced asynchronously by the compare worker.
type Comparison struct {
	ID              string
	OwnerID         string
	LeftDocumentID  string
	RightDocumentID string
	Status          ComparisonStatus
	Similarity      *float64
	Summary         string
	ExportRef       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
