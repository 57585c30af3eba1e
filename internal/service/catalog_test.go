package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

type catalogFixture struct {
	svc    *CatalogService
	videos *fakeVideoRepo
	users  *fakeUserRepo
	alice  *model.User
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	f := &catalogFixture{
		videos: newFakeVideoRepo(),
		users:  newFakeUserRepo(),
	}
	f.svc = NewCatalogService(f.videos, f.users, testLogger())

	f.alice = &model.User{Username: "alice", Email: "alice@example.com", Verified: true}
	require.NoError(t, f.users.CreateUser(context.Background(), f.alice))
	return f
}

func (f *catalogFixture) addVideo(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.videos.CreateVideo(context.Background(), &model.Video{
		ID: id, Title: "clip " + id, ChannelName: "chan",
		Path: "/uploads/" + id + "/video.mp4", Logo: "/uploads/" + id + "/logo.png",
		OwnerID: f.alice.ID,
	}))
}

func TestCatalogList_SortAndPaging(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	list, err := f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, list, "empty catalog is an empty list, not null")

	_, err = f.svc.List(ctx, ListQuery{Sort: "Popular", Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, repository.ListOptions{Sort: repository.SortPopular, Limit: MaxListLimit, Offset: 0}, f.videos.lastList)

	_, err = f.svc.List(ctx, ListQuery{Sort: "random"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestCatalogGet(t *testing.T) {
	f := newCatalogFixture(t)
	f.addVideo(t, "v1")

	v, err := f.svc.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "clip v1", v.Title)

	_, err = f.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCatalogReactions(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.addVideo(t, "v1")

	res, err := f.svc.RecordLike(ctx, "v1", f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Likes)

	res, err = f.svc.RecordLike(ctx, "v1", f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Likes, "liking twice is a no-op")

	res, err = f.svc.RecordDislike(ctx, "v1", f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Likes)
	assert.Equal(t, int64(1), res.Dislikes)

	res, err = f.svc.ClearReaction(ctx, "v1", f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Dislikes)
	assert.Equal(t, model.ReactionNone, res.Reaction)

	_, err = f.svc.RecordLike(ctx, "missing", f.alice.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.RecordLike(ctx, "v1", "")
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}

func TestCatalogRecordView(t *testing.T) {
	f := newCatalogFixture(t)
	f.addVideo(t, "v1")

	for want := int64(1); want <= 3; want++ {
		views, err := f.svc.RecordView(context.Background(), "v1")
		require.NoError(t, err)
		assert.Equal(t, want, views)
	}

	_, err := f.svc.RecordView(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCatalogAddComment(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.addVideo(t, "v1")

	c, err := f.svc.AddComment(ctx, "v1", f.alice.ID, "  great video  ")
	require.NoError(t, err)
	assert.Equal(t, "great video", c.Content)
	assert.Equal(t, "alice", c.AuthorName)
	assert.NotEmpty(t, c.ID)

	list, err := f.svc.ListComments(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}

func TestCatalogAddComment_EmptyContentMutatesNothing(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.addVideo(t, "v1")

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := f.svc.AddComment(ctx, "v1", f.alice.ID, content)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	}
	_, err := f.svc.AddComment(ctx, "v1", f.alice.ID, strings.Repeat("x", model.MaxCommentLength+1))
	assert.ErrorIs(t, err, apperror.ErrValidation)

	list, err := f.svc.ListComments(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCatalogAddComment_UnknownVideo(t *testing.T) {
	f := newCatalogFixture(t)

	_, err := f.svc.AddComment(context.Background(), "missing", f.alice.ID, "hello")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.svc.ListComments(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCatalogMe(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.addVideo(t, "v1")
	f.addVideo(t, "v2")
	_, err := f.svc.RecordLike(ctx, "v2", f.alice.ID)
	require.NoError(t, err)

	me, err := f.svc.Me(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, []string{"v1", "v2"}, me.VideoIDs)
	assert.Equal(t, []string{"v2"}, me.LikedVideos)

	other := &model.User{ID: "nobody"}
	me, err = f.svc.Me(ctx, other)
	require.NoError(t, err)
	assert.NotNil(t, me.VideoIDs)
	assert.NotNil(t, me.LikedVideos)
}
