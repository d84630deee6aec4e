package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jason-s-yu/dinomemo/internal/catalog"
	"github.com/jason-s-yu/dinomemo/internal/deck"
	"github.com/jason-s-yu/dinomemo/internal/service"
	"github.com/jason-s-yu/dinomemo/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON body of every failed HTTP call.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrGameNotFound):
		return http.StatusNotFound, CodeGameNotFound
	case errors.Is(err, store.ErrGameFull):
		return http.StatusConflict, CodeGameFull
	case errors.Is(err, store.ErrInvalidPatch):
		return http.StatusBadRequest, CodeInvalidUpdate
	case errors.Is(err, service.ErrInvalidName):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, catalog.ErrCatalogUnavailable), errors.Is(err, deck.ErrInsufficientCatalog):
		return http.StatusServiceUnavailable, CodeCatalogUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("write response body: %v", err)
	}
}

// writeError logs unexpected failures and answers with the mapped status.
func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Errorf("internal error: %v", err)
		msg = "internal server error"
	}
	writeJSON(w, logger, status, ErrorBody{Error: code, Message: msg})
}

func badRequest(w http.ResponseWriter, logger *logrus.Logger, msg string) {
	writeJSON(w, logger, http.StatusBadRequest, ErrorBody{Error: CodeBadRequest, Message: msg})
}
