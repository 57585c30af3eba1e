// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the catalog and the user store
//
// Services accept plain Go values (IDs, strings, io.Readers), never HTTP
// types, and return apperror values for every failure the caller is
// expected to handle. The handler translates those into status codes.
//
// Every service takes its repositories as interfaces, so tests run against
// small in-memory fakes and the server can swap the SQLite catalog for the
// JSON file one without touching this package.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

// MaxListLimit caps a single page of the video list.
const MaxListLimit = 100

// CatalogService handles browsing and engagement: listing, reactions,
// views and comments.
type CatalogService struct {
	videos repository.VideoRepository
	users  repository.UserRepository
	logger *slog.Logger
}

func NewCatalogService(videos repository.VideoRepository, users repository.UserRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		videos: videos,
		users:  users,
		logger: logger,
	}
}

// ListQuery is the client's view of repository.ListOptions. Sort is one of
// "", "newest", "popular" or "liked".
type ListQuery struct {
	Sort   string
	Limit  int
	Offset int
}

// List returns the catalog. With no limit the whole catalog is returned,
// otherwise the limit is clamped to MaxListLimit.
func (s *CatalogService) List(ctx context.Context, q ListQuery) ([]model.Video, error) {
	sort := repository.SortOrder(strings.ToLower(strings.TrimSpace(q.Sort)))
	switch sort {
	case repository.SortCatalog, repository.SortNewest, repository.SortPopular, repository.SortLiked:
	default:
		return nil, apperror.ValidationFailed("sort", "sort must be one of newest, popular or liked")
	}

	limit := q.Limit
	if limit < 0 {
		limit = 0
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(q.Offset, 0)

	videos, err := s.videos.ListVideos(ctx, repository.ListOptions{
		Sort:   sort,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing videos: %w", err)
	}
	if videos == nil {
		videos = []model.Video{}
	}
	return videos, nil
}

// Get returns one video. Returns apperror.ErrNotFound for unknown IDs.
func (s *CatalogService) Get(ctx context.Context, id string) (*model.Video, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "video id is required")
	}
	return s.videos.GetVideo(ctx, id)
}

// RecordLike sets the user's reaction to "like". Liking twice is a no-op;
// liking a disliked video moves the vote.
func (s *CatalogService) RecordLike(ctx context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return s.react(ctx, videoID, userID, model.ReactionLike)
}

func (s *CatalogService) RecordDislike(ctx context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return s.react(ctx, videoID, userID, model.ReactionDislike)
}

// ClearReaction withdraws whatever vote the user had on the video.
func (s *CatalogService) ClearReaction(ctx context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return s.react(ctx, videoID, userID, model.ReactionNone)
}

func (s *CatalogService) react(ctx context.Context, videoID, userID string, reaction model.Reaction) (*model.ReactionResult, error) {
	if userID == "" {
		return nil, apperror.Unauthenticated()
	}
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, apperror.ValidationFailed("id", "video id is required")
	}

	result, err := s.videos.SetReaction(ctx, videoID, userID, reaction)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: reacting to %s: %w", videoID, err)
	}

	s.logger.Debug("reaction recorded",
		slog.String("videoID", videoID),
		slog.String("userID", userID),
		slog.String("reaction", string(reaction)),
	)
	return result, nil
}

// RecordView bumps the view counter and returns the new total.
func (s *CatalogService) RecordView(ctx context.Context, videoID string) (int64, error) {
	views, err := s.videos.IncrementViews(ctx, strings.TrimSpace(videoID))
	if err != nil {
		return 0, fmt.Errorf("service/catalog: recording view of %s: %w", videoID, err)
	}
	return views, nil
}

// AddComment attaches a comment to a video.
//
// Content is trimmed and must be non-empty and at most
// model.MaxCommentLength characters. Invalid content is rejected before
// anything is read or written.
func (s *CatalogService) AddComment(ctx context.Context, videoID, userID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "comment content is required")
	}
	if utf8.RuneCountInString(content) > model.MaxCommentLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("comment must be %d characters or less", model.MaxCommentLength))
	}

	author, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: loading comment author %s: %w", userID, err)
	}

	comment := &model.Comment{
		VideoID:    strings.TrimSpace(videoID),
		AuthorID:   author.ID,
		AuthorName: author.Username,
		Content:    content,
	}
	if err := s.videos.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("service/catalog: commenting on %s: %w", videoID, err)
	}

	s.logger.Info("comment added",
		slog.String("commentID", comment.ID),
		slog.String("videoID", comment.VideoID),
		slog.String("userID", author.ID),
	)
	return comment, nil
}

// ListComments returns a video's comments, newest first.
func (s *CatalogService) ListComments(ctx context.Context, videoID string) ([]model.Comment, error) {
	if _, err := s.Get(ctx, videoID); err != nil {
		return nil, err
	}

	comments, err := s.videos.ListComments(ctx, strings.TrimSpace(videoID))
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing comments of %s: %w", videoID, err)
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}

// Me is the signed-in user's profile with the IDs of the videos they
// uploaded and liked.
type Me struct {
	model.Profile
	Verified    bool     `json:"verified"`
	VideoIDs    []string `json:"videos"`
	LikedVideos []string `json:"likedVideos"`
}

// Me assembles the profile of user. Back-references are read from the
// catalog on every call, never cached on the user.
func (s *CatalogService) Me(ctx context.Context, user *model.User) (*Me, error) {
	owned, err := s.videos.ListVideosByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing videos of %s: %w", user.ID, err)
	}
	liked, err := s.videos.ListLikedVideoIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing likes of %s: %w", user.ID, err)
	}

	ids := make([]string, 0, len(owned))
	for _, v := range owned {
		ids = append(ids, v.ID)
	}
	if liked == nil {
		liked = []string{}
	}

	return &Me{
		Profile:     user.Profile(),
		Verified:    user.Verified,
		VideoIDs:    ids,
		LikedVideos: liked,
	}, nil
}
