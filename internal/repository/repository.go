// Package repository declares the storage interfaces the services depend on.
//
// Implementations live in sub-packages:
//   - sqlite:   users and the video catalog in one SQLite file (default)
//   - jsonfile: the video catalog as a single JSON index file
//
// Every method takes a context and returns apperror values for the
// "expected" failures (not found, conflict) so services can pass them
// straight through to the HTTP layer.
package repository

import (
	"context"
	"time"

	"github.com/sakif/vidshare/internal/model"
)

// SortOrder selects how ListVideos orders the catalog.
type SortOrder string

const (
	SortCatalog SortOrder = ""        // insertion order
	SortNewest  SortOrder = "newest"  // most recent first
	SortPopular SortOrder = "popular" // most views first
	SortLiked   SortOrder = "liked"   // most likes first
)

type ListOptions struct {
	Sort   SortOrder
	Limit  int // 0 = no limit
	Offset int
}

// UserRepository is the credential store.
type UserRepository interface {
	// CreateUser inserts a new user and fills in ID and timestamps.
	// Returns apperror.ErrConflict when the username or email is taken.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)

	// MarkVerified consumes a verification token that has not expired at
	// `now`. It is atomic: of two concurrent calls with the same token,
	// exactly one succeeds. Returns apperror.ErrNotFound otherwise.
	MarkVerified(ctx context.Context, token string, now time.Time) (*model.User, error)

	// SetPasswordResetToken stores a reset token for the user.
	SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error

	// ResetPassword consumes a reset token (same semantics as MarkVerified)
	// and stores the new hash.
	ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (*model.User, error)
}

// VideoRepository is the video catalog.
type VideoRepository interface {
	// CreateVideo appends a catalog entry. The caller supplies the ID (it is
	// the storage key the assets were written under).
	CreateVideo(ctx context.Context, video *model.Video) error
	GetVideo(ctx context.Context, id string) (*model.Video, error)
	ListVideos(ctx context.Context, opts ListOptions) ([]model.Video, error)
	ListVideosByOwner(ctx context.Context, ownerID string) ([]model.Video, error)

	// SetReaction records the user's vote and updates the counters in one
	// step. Returns apperror.ErrNotFound for an unknown video.
	SetReaction(ctx context.Context, videoID, userID string, reaction model.Reaction) (*model.ReactionResult, error)
	ListLikedVideoIDs(ctx context.Context, userID string) ([]string, error)

	IncrementViews(ctx context.Context, videoID string) (int64, error)

	// AddComment fills in the comment's ID and CreatedAt.
	AddComment(ctx context.Context, comment *model.Comment) error
	// ListComments returns comments newest first.
	ListComments(ctx context.Context, videoID string) ([]model.Comment, error)
}
