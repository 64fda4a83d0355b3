package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type UsersService interface {
	GetProfile(ctx context.Context, callerID string) (user.User, bool, error)
	UpdateProfile(ctx context.Context, callerID string, req user.UpdateProfileRequest) (user.User, error)
	Follow(ctx context.Context, callerID, targetID string) error
	Unfollow(ctx context.Context, callerID, targetID string) error
	Followers(ctx context.Context, userID string) ([]user.Summary, bool, error)
	Following(ctx context.Context, userID string) ([]user.Summary, bool, error)
	Search(ctx context.Context, keyword string) ([]user.SearchResult, error)
}

type UsersHandler struct {
	svc UsersService
}

func NewUsersHandler(svc UsersService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

// GET /api/users/me
func (h *UsersHandler) Me(ctx *gin.Context) {
	callerID, _ := middlewares.UserIDFromContext(ctx)

	u, fromCache, err := h.svc.GetProfile(ctx.Request.Context(), callerID)
	if err != nil {
		respondErr(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"fromCache": fromCache,
		"user":      u,
	})
}

// PATCH /api/users/me
func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	var req user.UpdateProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	callerID, _ := middlewares.UserIDFromContext(ctx)

	u, err := h.svc.UpdateProfile(ctx.Request.Context(), callerID, req)
	if err != nil {
		respondErr(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    u.ProfileView(),
	})
}

// POST /api/users/:id/follow
func (h *UsersHandler) Follow(ctx *gin.Context) {
	callerID, _ := middlewares.UserIDFromContext(ctx)

	if err := h.svc.Follow(ctx.Request.Context(), callerID, ctx.Param("id")); err != nil {
		respondErr(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "User followed successfully"})
}

// POST /api/users/:id/unfollow
func (h *UsersHandler) Unfollow(ctx *gin.Context) {
	callerID, _ := middlewares.UserIDFromContext(ctx)

	if err := h.svc.Unfollow(ctx.Request.Context(), callerID, ctx.Param("id")); err != nil {
		respondErr(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "User unfollowed successfully"})
}

// GET /api/users/:id/followers
func (h *UsersHandler) Followers(ctx *gin.Context) {
	list, fromCache, err := h.svc.Followers(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondErr(ctx, err)
		return
	}

	respondWithETag(ctx, http.StatusOK, gin.H{
		"fromCache": fromCache,
		"followers": list,
		"count":     len(list),
	}, list)
}

// GET /api/users/:id/following
func (h *UsersHandler) Following(ctx *gin.Context) {
	list, fromCache, err := h.svc.Following(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondErr(ctx, err)
		return
	}

	respondWithETag(ctx, http.StatusOK, gin.H{
		"fromCache": fromCache,
		"following": list,
		"count":     len(list),
	}, list)
}

// GET /api/users/search/users?q=
func (h *UsersHandler) Search(ctx *gin.Context) {
	found, err := h.svc.Search(ctx.Request.Context(), ctx.Query("q"))
	if err != nil {
		respondErr(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{"users": found})
}
