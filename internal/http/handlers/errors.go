package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type domainError struct {
	status  int
	code    string
	message string
}

var domainErrors = []struct {
	err error
	out domainError
}{
	{user.ErrUnauthenticated, domainError{http.StatusUnauthorized, "unauthorized", "Not authorized, no token"}},
	{user.ErrMissingQuery, domainError{http.StatusBadRequest, "invalid_request", "Missing search query"}},
	{user.ErrPasswordTooLong, domainError{http.StatusBadRequest, "invalid_request", "Password must be at most 72 bytes"}},
	{user.ErrEmailTaken, domainError{http.StatusBadRequest, "conflict", "Email already exists"}},
	{user.ErrUsernameTaken, domainError{http.StatusBadRequest, "conflict", "Username already taken"}},
	{user.ErrAlreadyFollowing, domainError{http.StatusBadRequest, "conflict", "Already following this user"}},
	{user.ErrNotFollowing, domainError{http.StatusBadRequest, "conflict", "You're not following this user"}},
	{user.ErrSelfFollow, domainError{http.StatusBadRequest, "invalid_operation", "You can't follow yourself"}},
	{user.ErrSelfUnfollow, domainError{http.StatusBadRequest, "invalid_operation", "You can't unfollow yourself"}},
	{user.ErrInvalidCredentials, domainError{http.StatusBadRequest, "invalid_credentials", "Invalid credentials"}},
	{user.ErrNotFound, domainError{http.StatusNotFound, "not_found", "User not found"}},
}

// respondErr writes known domain failures directly and hands anything else
// to ErrorHandler through ctx.Error.
func respondErr(ctx *gin.Context, err error) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			RespondError(ctx, d.out.status, d.out.code, d.out.message, nil)
			return
		}
	}

	_ = ctx.Error(err)
	ctx.Abort()
}

// ErrorHandler renders errors that handlers attached with ctx.Error and did
// not answer themselves. Outside prod the error chain is echoed as trace.
func ErrorHandler(log *slog.Logger, isProd bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		if len(ctx.Errors) == 0 || ctx.Writer.Written() {
			return
		}

		err := ctx.Errors.Last().Err
		log.ErrorContext(ctx.Request.Context(), "request failed",
			"err", err,
			"path", ctx.Request.URL.Path,
			"request_id", requestIDFrom(ctx),
		)

		trace := ""
		if !isProd {
			trace = err.Error()
		}
		RespondInternal(ctx, "Internal server error", trace)
	}
}

// Recovery turns a panic into a 500 envelope; the stack is included outside prod.
func Recovery(log *slog.Logger, isProd bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			stack := debug.Stack()
			log.ErrorContext(ctx.Request.Context(), "panic recovered",
				"panic", fmt.Sprint(rec),
				"path", ctx.Request.URL.Path,
				"request_id", requestIDFrom(ctx),
				"stack", string(stack),
			)

			if ctx.Writer.Written() {
				ctx.Abort()
				return
			}

			trace := ""
			if !isProd {
				trace = fmt.Sprintf("%v\n%s", rec, stack)
			}
			RespondInternal(ctx, "Internal server error", trace)
		}()

		ctx.Next()
	}
}

// NotFound answers unmatched routes.
func NotFound(ctx *gin.Context) {
	RespondNotFound(ctx, "Not Found - "+ctx.Request.URL.Path)
}
