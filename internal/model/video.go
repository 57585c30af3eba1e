package model

import (
	"strings"
	"time"

	"github.com/sakif/vidshare/internal/apperror"
)

// MaxCommentLength bounds comment content, counted in characters.
const MaxCommentLength = 2000

// Video is one catalog entry.
//
// The ID doubles as the storage key: every asset of the video lives under
// a directory (or object prefix) named after it. Title and ChannelName are
// display metadata only and never influence where files are written.
type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ChannelName     string    `json:"channelName"`
	Path            string    `json:"path"` // location of the media asset
	Logo            string    `json:"logo"` // location of the channel logo
	OwnerID         string    `json:"ownerId"`
	Views           int64     `json:"views"`
	Likes           int64     `json:"likes"`
	Dislikes        int64     `json:"dislikes"`
	DurationSeconds float64   `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Comment is free text attached to a video. Comments are immutable.
type Comment struct {
	ID         string    `json:"id"`
	VideoID    string    `json:"videoId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Reaction is a user's current vote on a video.
//
// Stored server-side per (user, video) so a user cannot like the same video
// twice and so the state follows them across devices.
type Reaction string

const (
	ReactionNone    Reaction = ""
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// ReactionResult is what a like/dislike call reports back.
type ReactionResult struct {
	VideoID  string   `json:"videoId"`
	Likes    int64    `json:"likes"`
	Dislikes int64    `json:"dislikes"`
	Reaction Reaction `json:"reaction"`
}

// ApplyReaction moves one vote from `from` to `to` on the video's counters.
// Moving to the same reaction is a no-op.
func (v *Video) ApplyReaction(from, to Reaction) {
	if from == to {
		return
	}
	switch from {
	case ReactionLike:
		v.Likes--
	case ReactionDislike:
		v.Dislikes--
	}
	switch to {
	case ReactionLike:
		v.Likes++
	case ReactionDislike:
		v.Dislikes++
	}
}

// Validate checks that a catalog entry is complete before it is stored.
// Every catalog backend calls it, so an entry without assets can never be
// listed.
func (v *Video) Validate() error {
	switch {
	case strings.TrimSpace(v.ID) == "":
		return apperror.ValidationFailed("id", "video id is required")
	case strings.TrimSpace(v.Title) == "":
		return apperror.ValidationFailed("title", "title is required")
	case strings.TrimSpace(v.ChannelName) == "":
		return apperror.ValidationFailed("channelName", "channel name is required")
	case v.Path == "":
		return apperror.ValidationFailed("path", "video asset location is required")
	case v.Logo == "":
		return apperror.ValidationFailed("logo", "logo asset location is required")
	}
	return nil
}
