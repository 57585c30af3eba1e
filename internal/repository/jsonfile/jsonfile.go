// Package jsonfile stores the video catalog as one JSON document on disk.
//
// It is the alternative to the SQLite catalog for deployments that want a
// human-readable index next to the uploaded files (CATALOG_BACKEND=file).
// Users always live in SQLite; only videos, reactions and comments are
// kept here.
//
// CONSISTENCY:
// Every mutation is a full read-modify-write of the index:
//
//	lock → read videos.json → change in memory → write temp file → rename → unlock
//
// Two locks are held for the duration:
//   - a sync.Mutex, serialising goroutines in this process
//   - an exclusive flock on videos.json.lock, serialising other processes
//
// rename(2) is atomic on POSIX filesystems, so a reader never observes a
// half-written index and a crash mid-write leaves the previous version.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/xid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

const (
	IndexFile = "videos.json"

	lockRetryDelay = 10 * time.Millisecond
)

var _ repository.VideoRepository = (*Catalog)(nil)

// index is the on-disk document.
type index struct {
	Videos    []model.Video   `json:"videos"`
	Reactions []reactionEntry `json:"reactions"`
	Comments  []model.Comment `json:"comments"`
}

type reactionEntry struct {
	UserID   string         `json:"userId"`
	VideoID  string         `json:"videoId"`
	Reaction model.Reaction `json:"reaction"`
}

func (ix *index) video(id string) (*model.Video, bool) {
	for i := range ix.Videos {
		if ix.Videos[i].ID == id {
			return &ix.Videos[i], true
		}
	}
	return nil, false
}

type Catalog struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// New opens the catalog stored in dir, creating dir if needed. The index
// file itself is created on the first write.
func New(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, IndexFile)
	return &Catalog{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path is the location of the index file.
func (c *Catalog) Path() string {
	return c.path
}

// view runs fn against a snapshot of the index under a shared lock.
func (c *Catalog) view(ctx context.Context, fn func(ix *index) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("jsonfile: acquiring read lock: %w", err)
	}
	defer c.lock.Unlock()

	ix, err := c.read()
	if err != nil {
		return err
	}
	return fn(ix)
}

// update runs fn under an exclusive lock and persists the index if fn
// returns nil. When fn fails nothing is written.
func (c *Catalog) update(ctx context.Context, fn func(ix *index) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("jsonfile: acquiring write lock: %w", err)
	}
	defer c.lock.Unlock()

	ix, err := c.read()
	if err != nil {
		return err
	}
	if err := fn(ix); err != nil {
		return err
	}
	return c.write(ix)
}

func (c *Catalog) read() (*index, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &index{}, nil
	}
	if err != nil {
		return nil, apperror.Storage("reading catalog", err)
	}

	var ix index
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ix); err != nil {
			return nil, apperror.Storage("decoding catalog", err)
		}
	}
	return &ix, nil
}

func (c *Catalog) write(ix *index) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return apperror.Storage("encoding catalog", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), IndexFile+".*.tmp")
	if err != nil {
		return apperror.Storage("writing catalog", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperror.Storage("writing catalog", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperror.Storage("syncing catalog", err)
	}
	if err := tmp.Close(); err != nil {
		return apperror.Storage("writing catalog", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return apperror.Storage("replacing catalog", err)
	}
	return nil
}

func (c *Catalog) CreateVideo(ctx context.Context, video *model.Video) error {
	if err := video.Validate(); err != nil {
		return err
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}

	return c.update(ctx, func(ix *index) error {
		if _, exists := ix.video(video.ID); exists {
			return apperror.Conflict("id", "a video with this id already exists")
		}
		ix.Videos = append(ix.Videos, *video)
		return nil
	})
}

func (c *Catalog) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	var out *model.Video
	err := c.view(ctx, func(ix *index) error {
		v, ok := ix.video(id)
		if !ok {
			return apperror.NotFound("video", id)
		}
		cp := *v
		out = &cp
		return nil
	})
	return out, err
}

// ListVideos sorts a copy of the index. Ties keep catalog order.
func (c *Catalog) ListVideos(ctx context.Context, opts repository.ListOptions) ([]model.Video, error) {
	var videos []model.Video
	err := c.view(ctx, func(ix *index) error {
		videos = slices.Clone(ix.Videos)
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch opts.Sort {
	case repository.SortNewest:
		// Newest first; equal timestamps fall back to later-registered first.
		slices.Reverse(videos)
		slices.SortStableFunc(videos, func(a, b model.Video) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case repository.SortPopular:
		slices.SortStableFunc(videos, func(a, b model.Video) int { return cmpDesc(a.Views, b.Views) })
	case repository.SortLiked:
		slices.SortStableFunc(videos, func(a, b model.Video) int { return cmpDesc(a.Likes, b.Likes) })
	}

	return page(videos, opts.Limit, opts.Offset), nil
}

func (c *Catalog) ListVideosByOwner(ctx context.Context, ownerID string) ([]model.Video, error) {
	out := []model.Video{}
	err := c.view(ctx, func(ix *index) error {
		for _, v := range ix.Videos {
			if v.OwnerID == ownerID {
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

func (c *Catalog) SetReaction(ctx context.Context, videoID, userID string, reaction model.Reaction) (*model.ReactionResult, error) {
	var result *model.ReactionResult

	err := c.update(ctx, func(ix *index) error {
		v, ok := ix.video(videoID)
		if !ok {
			return apperror.NotFound("video", videoID)
		}

		current := model.ReactionNone
		pos := slices.IndexFunc(ix.Reactions, func(r reactionEntry) bool {
			return r.UserID == userID && r.VideoID == videoID
		})
		if pos >= 0 {
			current = ix.Reactions[pos].Reaction
		}

		switch {
		case current == reaction:
		case reaction == model.ReactionNone:
			ix.Reactions = slices.Delete(ix.Reactions, pos, pos+1)
		case pos >= 0:
			ix.Reactions[pos].Reaction = reaction
		default:
			ix.Reactions = append(ix.Reactions, reactionEntry{UserID: userID, VideoID: videoID, Reaction: reaction})
		}
		v.ApplyReaction(current, reaction)

		result = &model.ReactionResult{
			VideoID:  videoID,
			Likes:    v.Likes,
			Dislikes: v.Dislikes,
			Reaction: reaction,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Catalog) ListLikedVideoIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := c.view(ctx, func(ix *index) error {
		for _, r := range ix.Reactions {
			if r.UserID == userID && r.Reaction == model.ReactionLike {
				ids = append(ids, r.VideoID)
			}
		}
		return nil
	})
	return ids, err
}

func (c *Catalog) IncrementViews(ctx context.Context, videoID string) (int64, error) {
	var views int64
	err := c.update(ctx, func(ix *index) error {
		v, ok := ix.video(videoID)
		if !ok {
			return apperror.NotFound("video", videoID)
		}
		v.Views++
		views = v.Views
		return nil
	})
	return views, err
}

func (c *Catalog) AddComment(ctx context.Context, comment *model.Comment) error {
	comment.ID = xid.New().String()
	comment.CreatedAt = time.Now().UTC()

	return c.update(ctx, func(ix *index) error {
		if _, ok := ix.video(comment.VideoID); !ok {
			return apperror.NotFound("video", comment.VideoID)
		}
		ix.Comments = append(ix.Comments, *comment)
		return nil
	})
}

// ListComments returns newest first. Comments are appended in time order,
// so that is the index order reversed.
func (c *Catalog) ListComments(ctx context.Context, videoID string) ([]model.Comment, error) {
	out := []model.Comment{}
	err := c.view(ctx, func(ix *index) error {
		for i := len(ix.Comments) - 1; i >= 0; i-- {
			if ix.Comments[i].VideoID == videoID {
				out = append(out, ix.Comments[i])
			}
		}
		return nil
	})
	return out, err
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

func page(videos []model.Video, limit, offset int) []model.Video {
	if offset >= len(videos) {
		return []model.Video{}
	}
	if offset > 0 {
		videos = videos[offset:]
	}
	if limit > 0 && limit < len(videos) {
		videos = videos[:limit]
	}
	return videos
}
