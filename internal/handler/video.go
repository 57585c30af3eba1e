package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/service"
)

// CatalogService is the part of service.CatalogService the HTTP layer drives.
type CatalogService interface {
	List(ctx context.Context, q service.ListQuery) ([]model.Video, error)
	Get(ctx context.Context, id string) (*model.Video, error)
	RecordLike(ctx context.Context, videoID, userID string) (*model.ReactionResult, error)
	RecordDislike(ctx context.Context, videoID, userID string) (*model.ReactionResult, error)
	ClearReaction(ctx context.Context, videoID, userID string) (*model.ReactionResult, error)
	RecordView(ctx context.Context, videoID string) (int64, error)
	AddComment(ctx context.Context, videoID, userID, content string) (*model.Comment, error)
	ListComments(ctx context.Context, videoID string) ([]model.Comment, error)
	Me(ctx context.Context, user *model.User) (*service.Me, error)
}

// VideoHandler serves browsing and engagement.
//
// Reads are public. Reactions, comments and /api/me sit behind
// auth.RequireAuth, which puts the *model.User in the request context.
type VideoHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

func NewVideoHandler(catalog CatalogService, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{catalog: catalog, logger: logger}
}

// ReactionResponse is returned by the like, dislike and clear endpoints.
type ReactionResponse struct {
	Success bool `json:"success"`
	*model.ReactionResult
}

// HandleList returns the catalog as a bare JSON array.
//
// HTTP: GET /videos?sort=popular&limit=20&offset=40
//
// An empty catalog is [] rather than null.
func (h *VideoHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	videos, err := h.catalog.List(r.Context(), service.ListQuery{
		Sort:   q.Get("sort"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

// HandleGet returns one video.
//
// HTTP: GET /api/videos/{id}
func (h *VideoHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleComments lists a video's comments, newest first.
//
// HTTP: GET /api/videos/{id}/comments
func (h *VideoHandler) HandleComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.catalog.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// HandleLike, HandleDislike and HandleClearReaction set the caller's
// reaction. Repeating the same reaction changes nothing.
//
// HTTP: POST /api/videos/{id}/like, POST /api/videos/{id}/dislike,
// DELETE /api/videos/{id}/reaction
func (h *VideoHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.catalog.RecordLike)
}

func (h *VideoHandler) HandleDislike(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.catalog.RecordDislike)
}

func (h *VideoHandler) HandleClearReaction(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.catalog.ClearReaction)
}

func (h *VideoHandler) react(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, videoID, userID string) (*model.ReactionResult, error),
) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthenticated())
		return
	}

	res, err := fn(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionResponse{Success: true, ReactionResult: res})
}

// HandleView counts one view.
//
// HTTP: POST /api/videos/{id}/view
func (h *VideoHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	views, err := h.catalog.RecordView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "views": views})
}

// HandleComment adds a comment by the caller.
//
// HTTP: POST /api/videos/{id}/comment
// Body: {"content": "..."}
func (h *VideoHandler) HandleComment(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthenticated())
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.catalog.AddComment(r.Context(), chi.URLParam(r, "id"), user.ID, req.Content)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "comment": c})
}

// HandleMe returns the caller's profile with the ids of the videos they
// uploaded and liked.
//
// HTTP: GET /api/me
func (h *VideoHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthenticated())
		return
	}

	me, err := h.catalog.Me(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// intParam parses an optional non-negative query integer. "" means 0.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
