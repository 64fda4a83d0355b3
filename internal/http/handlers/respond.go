package handlers

import (
	"net/http"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/gin-gonic/gin"
)

// APIError is the body of every failed response, wrapped as {"error": ...}.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
	Trace     string `json:"trace,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if id, ok := actorctx.RequestIDFrom(ctx.Request.Context()); ok {
		return id
	}
	return ctx.GetHeader("X-Request-Id")
}

func abortWith(ctx *gin.Context, status int, body APIError) {
	body.RequestID = requestIDFrom(ctx)
	ctx.AbortWithStatusJSON(status, gin.H{"error": body})
}

func RespondError(ctx *gin.Context, status int, code, message string, details any) {
	abortWith(ctx, status, APIError{Code: code, Message: message, Details: details})
}

func RespondBadRequest(ctx *gin.Context, message string, details any) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

// RespondInternal hides the cause unless trace is non-empty.
func RespondInternal(ctx *gin.Context, message, trace string) {
	abortWith(ctx, http.StatusInternalServerError, APIError{Code: "internal_error", Message: message, Trace: trace})
}
