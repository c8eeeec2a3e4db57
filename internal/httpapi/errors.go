package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"publishengine/internal/apperrors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError writes status with message, independent of err's type — used
// directly by handlers that already know the status (auth failures,
// malformed request bodies).
func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, errorBody{Error: message})
}

// mapServiceError translates a controlplane/store error into an HTTP status
// and writes it, following the same "known errors map, everything else is a
// 500" shape as the teacher's mapDomainError/writeMappedError pair.
func mapServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var notFound *apperrors.NotFoundError
	if errors.As(err, &notFound) {
		writeError(c, http.StatusNotFound, err.Error(), err)
		return
	}

	var validation *apperrors.ValidationError
	if errors.As(err, &validation) {
		writeError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	if apperrors.IsConflict(err) {
		writeError(c, http.StatusConflict, err.Error(), err)
		return
	}

	var cfgErr *apperrors.ConfigError
	if errors.As(err, &cfgErr) {
		writeError(c, http.StatusServiceUnavailable, err.Error(), err)
		return
	}

	var storageErr *apperrors.StorageError
	if errors.As(err, &storageErr) {
		writeError(c, http.StatusServiceUnavailable, "storage unavailable", err)
		return
	}

	writeError(c, http.StatusInternalServerError, "internal error", err)
}
