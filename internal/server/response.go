package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"awrlens/internal/awr"
	"awrlens/internal/ingest"
	"awrlens/internal/store"
)

const notFoundDetail = "Report not found"

func respondError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, awr.ErrorBody{Detail: detail, Code: code})
}

// respondInvalidState answers 409 and names the status that forbade the call.
func respondInvalidState(c *gin.Context, r *awr.Report, detail string) {
	c.AbortWithStatusJSON(http.StatusConflict, awr.ErrorBody{
		Detail: detail,
		Code:   awr.CodeInvalidState,
		Status: r.Status,
	})
}

// fail maps store and service errors onto the JSON error body. Anything it
// does not recognise is logged and reported as a 500 without internals.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, awr.CodeNotFound, notFoundDetail)
	case errors.Is(err, store.ErrNotParsed), errors.Is(err, ingest.ErrNotTerminal), errors.Is(err, store.ErrInvalidTransition):
		respondError(c, http.StatusConflict, awr.CodeInvalidState, err.Error())
	default:
		s.logger.Error("request failed",
			"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		respondError(c, http.StatusInternalServerError, awr.CodeInternal, "internal server error")
	}
}

func badRequest(c *gin.Context, format string, args ...any) {
	respondError(c, http.StatusBadRequest, awr.CodeValidation, fmt.Sprintf(format, args...))
}
