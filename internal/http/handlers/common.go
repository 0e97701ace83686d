package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docpare/docpare-back/internal/http/middleware"
	"github.com/docpare/docpare-back/internal/policy"
	"github.com/docpare/docpare-back/internal/repository"
	"github.com/docpare/docpare-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	storage        *service.Storage
	comparisons    *service.Comparisons
	records        repository.RecordStore
	maxUploadBytes int64
}

func NewAPI(storage *service.Storage, comparisons *service.Comparisons, records repository.RecordStore, maxUploadBytes int64) *API {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &API{
		storage:        storage,
		comparisons:    comparisons,
		records:        records,
		maxUploadBytes: maxUploadBytes,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and repository sentinels onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrInvalidUpload):
		writeError(w, r, http.StatusBadRequest, "invalid_upload", err.Error())
	case errors.Is(err, errInvalidPayload):
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "invalid payload")
	case errors.Is(err, service.ErrDocumentNotComparable):
		writeError(w, r, http.StatusConflict, "document_not_comparable", "a referenced document failed text extraction")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "resource belongs to another owner")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
