package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/http/middleware"
)

type comparisonView struct {
	ID              string    `json:"id"`
	LeftDocumentID  string    `json:"left_document_id"`
	RightDocumentID string    `json:"right_document_id"`
	Status          string    `json:"status"`
	Similarity      *float64  `json:"similarity,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	ExportRef       string    `json:"export_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newComparisonView(comparison *domain.Comparison) comparisonView {
	return comparisonView{
		ID:              comparison.ID,
		LeftDocumentID:  comparison.LeftDocumentID,
		RightDocumentID: comparison.RightDocumentID,
		Status:          string(comparison.Status),
		Similarity:      comparison.Similarity,
		Summary:         comparison.Summary,
		ExportRef:       comparison.ExportRef,
		CreatedAt:       comparison.CreatedAt,
		UpdatedAt:       comparison.UpdatedAt,
	}
}

type comparisonRequest struct {
	LeftDocumentID  string `json:"left_document_id"`
	RightDocumentID string `json:"right_document_id"`
}

// Comparisons serves the /v1/comparisons collection.
func (api *API) Comparisons(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetActorID(r.Context())

	switch r.Method {
	case http.MethodPost:
		var request comparisonRequest
		if err := decodeJSON(r, &request); err != nil {
			writeServiceError(w, r, err)
			return
		}
		leftID := strings.TrimSpace(request.LeftDocumentID)
		rightID := strings.TrimSpace(request.RightDocumentID)
		if leftID == "" || rightID == "" || leftID == rightID {
			writeError(w, r, http.StatusBadRequest, "invalid_payload", "two distinct document ids are required")
			return
		}

		comparison, err := api.comparisons.Create(r.Context(), ownerID, leftID, rightID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newComparisonView(comparison))

	case http.MethodGet:
		comparisons, err := api.comparisons.List(r.Context(), ownerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		views := make([]comparisonView, 0, len(comparisons))
		for _, comparison := range comparisons {
			views = append(views, newComparisonView(comparison))
		}
		writeJSON(w, http.StatusOK, map[string]any{"comparisons": views})

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// ComparisonByID serves /v1/comparisons/{id} and /v1/comparisons/{id}/report.
func (api *API) ComparisonByID(w http.ResponseWriter, r *http.Request) {
	remainder := strings.TrimPrefix(r.URL.Path, "/v1/comparisons/")
	comparisonID, action, _ := strings.Cut(remainder, "/")
	if comparisonID == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	ownerID := middleware.GetActorID(r.Context())

	comparison, err := api.comparisons.Get(r.Context(), comparisonID, ownerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, newComparisonView(comparison))
	case "report":
		if comparison.ExportRef == "" {
			writeError(w, r, http.StatusConflict, "report_not_ready", "the comparison report has not been exported yet")
			return
		}
		report, err := api.comparisons.Report(r.Context(), comparisonID, ownerID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(report)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}
