package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/http/middleware"
)

type documentView struct {
	ID           string    `json:"id"`
	ContentHash  string    `json:"content_hash"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeCategory string    `json:"mime_category"`
	Status       string    `json:"status"`
	IsStandard   bool      `json:"is_standard"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newDocumentView(document *domain.Document) documentView {
	return documentView{
		ID:           document.ID,
		ContentHash:  document.ContentHash,
		OriginalName: document.OriginalName,
		SizeBytes:    document.SizeBytes,
		MimeCategory: string(document.MimeCategory),
		Status:       string(document.Status),
		IsStandard:   document.IsStandard,
		CreatedAt:    document.CreatedAt,
		UpdatedAt:    document.UpdatedAt,
	}
}

// Documents serves the /v1/documents collection: multipart upload and
// per-owner listing.
func (api *API) Documents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.uploadDocument(w, r)
	case http.MethodGet:
		api.listDocuments(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetActorID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadBytes)
	if err := r.ParseMultipartForm(api.maxUploadBytes); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file_too_large", "upload exceeds the size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_upload", "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_upload", "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_upload", "unreadable file")
		return
	}

	document, created, err := api.storage.Upload(r.Context(), ownerID, content, header.Filename)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	statusCode := http.StatusOK
	if created {
		statusCode = http.StatusCreated
	}
	writeJSON(w, statusCode, newDocumentView(document))
}

func (api *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetActorID(r.Context())

	documents, err := api.storage.List(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]documentView, 0, len(documents))
	for _, document := range documents {
		views = append(views, newDocumentView(document))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

// DocumentByID serves /v1/documents/{id} and its /content and /standard
// sub-resources.
func (api *API) DocumentByID(w http.ResponseWriter, r *http.Request) {
	remainder := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	documentID, action, _ := strings.Cut(remainder, "/")
	if documentID == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	ownerID := middleware.GetActorID(r.Context())

	switch {
	case action == "" && r.Method == http.MethodGet:
		document, err := api.storage.Get(r.Context(), documentID, ownerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newDocumentView(document))

	case action == "" && r.Method == http.MethodDelete:
		if err := api.storage.Delete(r.Context(), documentID, ownerID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case action == "content" && r.Method == http.MethodGet:
		content, err := api.storage.Fetch(r.Context(), documentID, ownerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)

	case action == "standard" && r.Method == http.MethodPost:
		document, err := api.storage.MarkStandard(r.Context(), documentID, ownerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newDocumentView(document))

	case action == "" || action == "content" || action == "standard":
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")

	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
