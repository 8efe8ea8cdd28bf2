package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode is the machine-readable part of an error envelope.
type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
)

// statusCodes maps HTTP statuses to their default error code.
var statusCodes = map[int]ErrorCode{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusTooManyRequests:     ErrCodeRateLimitExceeded,
	http.StatusInternalServerError: ErrCodeInternal,
	http.StatusServiceUnavailable:  ErrCodeUnavailable,
}

// ErrorResponse is the body of every non-2xx response:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RespondError aborts the request with an error envelope. An empty code is
// derived from the status.
func RespondError(c *gin.Context, status int, code ErrorCode, message string) {
	if code == "" {
		code = statusCodes[status]
		if code == "" {
			code = ErrCodeInternal
		}
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, "", message)
}

func RespondUnauthorized(c *gin.Context, message string) {
	RespondError(c, http.StatusUnauthorized, "", message)
}

func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, "", message)
}

func RespondTooManyRequests(c *gin.Context, message string) {
	RespondError(c, http.StatusTooManyRequests, "", message)
}

func RespondInternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, "", message)
}

func RespondUnavailable(c *gin.Context, message string) {
	RespondError(c, http.StatusServiceUnavailable, "", message)
}

// RespondValidationError is a 400 carrying VALIDATION_ERROR instead of
// BAD_REQUEST.
func RespondValidationError(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, ErrCodeValidation, message)
}
