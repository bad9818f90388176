package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verihealth/medledger/internal/ledger"
)

// statusOf maps the ledger failure taxonomy onto HTTP status codes:
// authorization → 403, invalid input → 400, not-found → 404,
// state conflict → 409.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidPatientID),
		errors.Is(err, ledger.ErrInvalidHash),
		errors.Is(err, ledger.ErrInvalidRecordType),
		errors.Is(err, ledger.ErrInvalidIdentity),
		errors.Is(err, ledger.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrRecordNotFound),
		errors.Is(err, ledger.ErrLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyAuthorized),
		errors.Is(err, ledger.ErrNotAuthorized),
		errors.Is(err, ledger.ErrCannotRevokeOwner),
		errors.Is(err, ledger.ErrInactiveRecord),
		errors.Is(err, ledger.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a ledger error as a JSON response. Internal errors are
// not leaked to the client.
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
