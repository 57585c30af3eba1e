package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	return c
}

func newEntry(title string) *model.Video {
	id := xid.New().String()
	return &model.Video{
		ID:          id,
		Title:       title,
		ChannelName: "chan",
		Path:        "/uploads/" + id + "/video.mp4",
		Logo:        "/uploads/" + id + "/logo.png",
		OwnerID:     "owner",
	}
}

func TestCatalog_EmptyList(t *testing.T) {
	c := newTestCatalog(t)

	list, err := c.ListVideos(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestCatalog_RegisterThenList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	first := newEntry("First")
	require.NoError(t, c.CreateVideo(ctx, first))
	before, err := c.ListVideos(ctx, repository.ListOptions{})
	require.NoError(t, err)

	entry := newEntry("Test")
	require.NoError(t, c.CreateVideo(ctx, entry))

	after, err := c.ListVideos(ctx, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)], "prior entries unchanged and in order")

	got := after[len(after)-1]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "Test", got.Title)
	assert.Equal(t, entry.Path, got.Path)
	assert.Equal(t, entry.Logo, got.Logo)
}

func TestCatalog_IndexIsReadableJSON(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.CreateVideo(context.Background(), newEntry("clip")))

	data, err := os.ReadFile(c.Path())
	require.NoError(t, err)

	var doc struct {
		Videos []map[string]any `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Videos, 1)
	assert.Equal(t, "clip", doc.Videos[0]["title"])
}

func TestCatalog_RejectsIncompleteEntry(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	bad := newEntry("clip")
	bad.Logo = ""
	err := c.CreateVideo(ctx, bad)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "got %v", err)

	dup := newEntry("clip")
	require.NoError(t, c.CreateVideo(ctx, dup))
	err = c.CreateVideo(ctx, dup)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "got %v", err)

	list, _ := c.ListVideos(ctx, repository.ListOptions{})
	assert.Len(t, list, 1)
}

func TestCatalog_ConcurrentRegistrations(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.CreateVideo(ctx, newEntry(fmt.Sprintf("clip %d", i))))
		}()
	}
	wg.Wait()

	list, err := c.ListVideos(ctx, repository.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, n)
}

// Two Catalog values on the same directory stand in for two processes:
// only the file lock keeps them from overwriting each other.
func TestCatalog_TwoInstancesShareTheIndex(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	b, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cat := a
			if i%2 == 1 {
				cat = b
			}
			assert.NoError(t, cat.CreateVideo(ctx, newEntry(fmt.Sprintf("clip %d", i))))
		}()
	}
	wg.Wait()

	list, err := a.ListVideos(ctx, repository.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, n)
}

func TestCatalog_Reactions(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	v := newEntry("clip")
	require.NoError(t, c.CreateVideo(ctx, v))

	res, err := c.SetReaction(ctx, v.ID, "u1", model.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Likes)

	res, err = c.SetReaction(ctx, v.ID, "u1", model.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Likes, "repeated like is a no-op")

	res, err = c.SetReaction(ctx, v.ID, "u1", model.ReactionDislike)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Likes)
	assert.Equal(t, int64(1), res.Dislikes)

	_, err = c.SetReaction(ctx, v.ID, "u2", model.ReactionLike)
	require.NoError(t, err)

	liked, err := c.ListLikedVideoIDs(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{v.ID}, liked)

	res, err = c.SetReaction(ctx, v.ID, "u1", model.ReactionNone)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Likes)
	assert.Equal(t, int64(0), res.Dislikes)

	_, err = c.SetReaction(ctx, "missing", "u1", model.ReactionLike)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCatalog_ViewsAndSort(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	a, b := newEntry("a"), newEntry("b")
	a.CreatedAt = time.Now().Add(-time.Hour)
	b.CreatedAt = time.Now()
	require.NoError(t, c.CreateVideo(ctx, a))
	require.NoError(t, c.CreateVideo(ctx, b))

	views, err := c.IncrementViews(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), views)

	popular, err := c.ListVideos(ctx, repository.ListOptions{Sort: repository.SortPopular})
	require.NoError(t, err)
	assert.Equal(t, a.ID, popular[0].ID)

	newest, err := c.ListVideos(ctx, repository.ListOptions{Sort: repository.SortNewest})
	require.NoError(t, err)
	assert.Equal(t, b.ID, newest[0].ID)

	paged, err := c.ListVideos(ctx, repository.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, b.ID, paged[0].ID)

	_, err = c.IncrementViews(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCatalog_Comments(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	v := newEntry("clip")
	require.NoError(t, c.CreateVideo(ctx, v))

	for _, text := range []string{"first", "second"} {
		require.NoError(t, c.AddComment(ctx, &model.Comment{VideoID: v.ID, AuthorID: "u1", AuthorName: "alice", Content: text}))
	}

	list, err := c.ListComments(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Content)
	assert.Equal(t, "alice", list[0].AuthorName)

	err = c.AddComment(ctx, &model.Comment{VideoID: "missing", Content: "x"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCatalog_CorruptIndex(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, os.WriteFile(c.Path(), []byte("{not json"), 0o644))

	_, err := c.ListVideos(context.Background(), repository.ListOptions{})
	assert.True(t, errors.Is(err, apperror.ErrStorage), "got %v", err)
}
