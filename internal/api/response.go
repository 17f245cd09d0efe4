package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrWorkerNotFound),
		errors.Is(err, models.ErrShiftNotFound),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, regcode.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidContext),
		errors.Is(err, models.ErrEmptyRecipient),
		errors.Is(err, messaging.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status mapped from err. Internal errors are not echoed.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	writeJSONResponse(w, status, models.Error(msg))
}

// writeOutcome answers a campaign. A committed step whose message could not
// be delivered is reported as 202 with status "queued".
func writeOutcome(w http.ResponseWriter, message string, delivered bool, result interface{}) {
	if delivered {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(message, result))
		return
	}
	resp := models.NewAPIResponseBuilder().
		WithStatus(models.APIStatusQueued).
		WithMessage(message + "; message not delivered").
		WithResult(result).
		Build()
	writeJSONResponse(w, http.StatusAccepted, resp)
}
