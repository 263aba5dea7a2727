package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/investledger/internal/ledger/domain"
	"github.com/wyfcoding/investledger/pkg/logger"
)

// statusOf 错误分类到 HTTP 状态码
func statusOf(err error) int {
	var (
		ve *domain.ValidationError
		pv *domain.PolicyViolation
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pv),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrStaleState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case domain.IsStoreError(err),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, msg string, err error, kv ...any) {
	code := statusOf(err)
	args := append(kv, "error", err, "status_code", code)
	if code >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), msg, args...)
	} else {
		logger.Debug(c.Request.Context(), msg, args...)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}
