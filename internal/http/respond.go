package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOperationError maps engine errors to HTTP statuses, carrying the
// machine-readable reason code alongside the message.
func writeOperationError(w http.ResponseWriter, err error) {
	if err == repository.ErrNotFound {
		writeError(w, http.StatusNotFound, "stack not found")
		return
	}
	reason := domain.ReasonOf(err)
	status := http.StatusInternalServerError
	switch reason {
	case domain.ReasonOperationInProgress:
		status = http.StatusConflict
	case domain.ReasonInvalidTransition, domain.ReasonNoSnapshot, domain.ReasonRollbackDisabled:
		status = http.StatusConflict
	case domain.ReasonValidation, domain.ReasonDependencyCycle, domain.ReasonDependencyMissing, domain.ReasonGatewayNotFound:
		status = http.StatusUnprocessableEntity
	case domain.ReasonRuntimeFailure:
		status = http.StatusBadGateway
	}
	if reason != "" {
		writeJSON(w, status, map[string]string{"error": err.Error(), "reason": string(reason)})
		return
	}
	writeError(w, status, err.Error())
}
