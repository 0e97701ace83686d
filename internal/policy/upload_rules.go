// Package policy validates uploads before anything is stored: size caps and
// a small allow-list of document types detected from the bytes themselves,
// never from the client-supplied filename alone.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/docpare/docpare-back/internal/domain"
)

var ErrInvalidUpload = errors.New("invalid upload")

const DefaultMaxUploadBytes = 20 << 20 // 20 MiB

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UploadViolationError struct {
	Violations []Violation
}

func (e *UploadViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrInvalidUpload.Error()
	}
	return "invalid upload: " + e.Violations[0].Message
}

func (e *UploadViolationError) Unwrap() error {
	return ErrInvalidUpload
}

type UploadRules struct {
	MaxBytes int64
}

func NewUploadRules(maxBytes int64) UploadRules {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return UploadRules{MaxBytes: maxBytes}
}

// Validate checks an upload and classifies it into a mime category. The
// category is stored on the document and decides how text extraction treats
// the bytes later.
func (r UploadRules) Validate(originalName string, content []byte) (domain.MimeCategory, error) {
	violations := make([]Violation, 0, 2)

	if strings.TrimSpace(originalName) == "" {
		violations = append(violations, Violation{
			Code:    "missing_filename",
			Message: "a filename is required",
		})
	}
	if len(content) == 0 {
		violations = append(violations, Violation{
			Code:    "empty_file",
			Message: "the uploaded file is empty",
		})
	}
	if int64(len(content)) > r.MaxBytes {
		violations = append(violations, Violation{
			Code:    "file_too_large",
			Message: fmt.Sprintf("file exceeds the %d byte limit", r.MaxBytes),
		})
	}
	if len(violations) > 0 {
		return "", &UploadViolationError{Violations: violations}
	}

	category, ok := classify(content)
	if !ok {
		return "", &UploadViolationError{Violations: []Violation{{
			Code:    "unsupported_type",
			Message: "only PDF, Word and plain-text documents are accepted",
		}}}
	}
	return category, nil
}

func classify(content []byte) (domain.MimeCategory, bool) {
	detected := http.DetectContentType(content)

	switch {
	case strings.HasPrefix(detected, "application/pdf"):
		return domain.MimeCategoryPDF, true
	case strings.HasPrefix(detected, "application/zip"):
		// DOCX files are ZIP containers; sniffing cannot see deeper without
		// unpacking, so zip payloads are treated as Word documents.
		return domain.MimeCategoryWord, true
	case strings.HasPrefix(detected, "application/msword"):
		return domain.MimeCategoryWord, true
	case strings.HasPrefix(detected, "text/"):
		return domain.MimeCategoryText, true
	}
	return "", false
}
