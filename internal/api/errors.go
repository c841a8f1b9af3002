package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"inkwell/internal/coauthor"
	"inkwell/internal/scope"
)

var ErrInvalidRequest = errors.New("invalid request")

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

func mapDomainError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, scope.ErrNoPrincipal):
		return http.StatusUnauthorized
	case errors.Is(err, scope.ErrScopeForbidden):
		return http.StatusForbidden
	case errors.Is(err, coauthor.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, coauthor.ErrConflictingEdit),
		errors.Is(err, coauthor.ErrProposalNotReady),
		errors.Is(err, coauthor.ErrSessionExists),
		errors.Is(err, coauthor.ErrSessionLive):
		return http.StatusConflict
	case errors.Is(err, coauthor.ErrInvalidReason):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
