package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================
//
// Hand-written in-memory fakes. Each one enforces the same rules as the
// real store (unique columns, single-use tokens) so the service tests
// exercise real behaviour, plus an error field to simulate a broken
// database.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo implements repository.UserRepository.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // keyed by internal ID

	// set to a non-nil error to simulate a database failure
	err error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}

	user.Email = strings.ToLower(user.Email)
	for _, u := range f.users {
		switch {
		case u.Username == user.Username:
			return apperror.Conflict("username", "Username already taken")
		case u.Email == user.Email:
			return apperror.Conflict("email", "Email already registered")
		case u.GitHubID != nil && user.GitHubID != nil && *u.GitHubID == *user.GitHubID:
			return apperror.Conflict("githubId", "GitHub account already linked")
		}
	}

	user.ID = xid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Avatar == "" {
		user.Avatar = model.DefaultAvatar
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, what string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(email)
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) GetUserByGitHubID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.GitHubID != nil && *u.GitHubID == id }, "github")
}

func (f *fakeUserRepo) MarkVerified(_ context.Context, token string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.VerificationToken != nil && *u.VerificationToken == token &&
			u.VerificationExpires != nil && u.VerificationExpires.After(now) {
			u.Verified = true
			u.VerificationToken = nil
			u.VerificationExpires = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("verification token", token)
}

func (f *fakeUserRepo) SetPasswordResetToken(_ context.Context, userID, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.PasswordResetToken = &token
	u.PasswordResetExpires = &expires
	return nil
}

func (f *fakeUserRepo) ResetPassword(_ context.Context, token, hash string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.PasswordResetToken != nil && *u.PasswordResetToken == token &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now) {
			u.PasswordHash = hash
			u.PasswordResetToken = nil
			u.PasswordResetExpires = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("reset token", token)
}

// set mutates a stored user directly, for test setup.
func (f *fakeUserRepo) set(id string, fn func(u *model.User)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.users[id])
}

// fakeVideoRepo implements repository.VideoRepository on a slice.
type fakeVideoRepo struct {
	mu        sync.Mutex
	videos    []model.Video
	reactions map[[2]string]model.Reaction // (userID, videoID)
	comments  []model.Comment

	createErr error
	lastList  repository.ListOptions
}

var _ repository.VideoRepository = (*fakeVideoRepo)(nil)

func newFakeVideoRepo() *fakeVideoRepo {
	return &fakeVideoRepo{reactions: make(map[[2]string]model.Reaction)}
}

func (f *fakeVideoRepo) CreateVideo(_ context.Context, v *model.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if err := v.Validate(); err != nil {
		return err
	}
	f.videos = append(f.videos, *v)
	return nil
}

func (f *fakeVideoRepo) index(id string) int {
	return slices.IndexFunc(f.videos, func(v model.Video) bool { return v.ID == id })
}

func (f *fakeVideoRepo) GetVideo(_ context.Context, id string) (*model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(id)
	if i < 0 {
		return nil, apperror.NotFound("video", id)
	}
	cp := f.videos[i]
	return &cp, nil
}

func (f *fakeVideoRepo) ListVideos(_ context.Context, opts repository.ListOptions) ([]model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = opts
	return slices.Clone(f.videos), nil
}

func (f *fakeVideoRepo) ListVideosByOwner(_ context.Context, ownerID string) ([]model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Video
	for _, v := range f.videos {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeVideoRepo) SetReaction(_ context.Context, videoID, userID string, r model.Reaction) (*model.ReactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(videoID)
	if i < 0 {
		return nil, apperror.NotFound("video", videoID)
	}
	k := [2]string{userID, videoID}
	f.videos[i].ApplyReaction(f.reactions[k], r)
	if r == model.ReactionNone {
		delete(f.reactions, k)
	} else {
		f.reactions[k] = r
	}
	return &model.ReactionResult{VideoID: videoID, Likes: f.videos[i].Likes, Dislikes: f.videos[i].Dislikes, Reaction: r}, nil
}

func (f *fakeVideoRepo) ListLikedVideoIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, v := range f.videos {
		if f.reactions[[2]string{userID, v.ID}] == model.ReactionLike {
			ids = append(ids, v.ID)
		}
	}
	return ids, nil
}

func (f *fakeVideoRepo) IncrementViews(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(id)
	if i < 0 {
		return 0, apperror.NotFound("video", id)
	}
	f.videos[i].Views++
	return f.videos[i].Views, nil
}

func (f *fakeVideoRepo) AddComment(_ context.Context, c *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index(c.VideoID) < 0 {
		return apperror.NotFound("video", c.VideoID)
	}
	c.ID = xid.New().String()
	c.CreatedAt = time.Now()
	f.comments = append(f.comments, *c)
	return nil
}

func (f *fakeVideoRepo) ListComments(_ context.Context, videoID string) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Comment
	for i := len(f.comments) - 1; i >= 0; i-- {
		if f.comments[i].VideoID == videoID {
			out = append(out, f.comments[i])
		}
	}
	return out, nil
}

// fakeAssets implements storage.AssetStore in memory.
type fakeAssets struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string

	// failOn makes Save fail for keys ending in this suffix
	failOn string
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{objects: make(map[string][]byte)}
}

func (f *fakeAssets) Save(_ context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	if f.failOn != "" && strings.HasSuffix(key, f.failOn) {
		return "", io.ErrShortWrite
	}
	return "/uploads/" + key, nil
}

func (f *fakeAssets) RemoveAll(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, prefix)
	for k := range f.objects {
		if strings.HasPrefix(k, prefix+"/") {
			delete(f.objects, k)
		}
	}
	return nil
}

func (f *fakeAssets) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (f *fakeAssets) get(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.objects[key])
}

// fakeNotifier records the tokens it was asked to deliver.
type fakeNotifier struct {
	mu     sync.Mutex
	verify map[string]string // email → token
	reset  map[string]string
	err    error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{verify: map[string]string{}, reset: map[string]string{}}
}

func (n *fakeNotifier) SendVerification(_ context.Context, u *model.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verify[u.Email] = token
	return n.err
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, u *model.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[u.Email] = token
	return n.err
}

func (n *fakeNotifier) verifyToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verify[email]
}

func (n *fakeNotifier) resetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[email]
}

// fakeProber returns a fixed duration or error.
type fakeProber struct {
	duration float64
	err      error
	keys     []string
}

func (p *fakeProber) Duration(_ context.Context, key string) (float64, error) {
	p.keys = append(p.keys, key)
	return p.duration, p.err
}

// Minimal file headers that mimetype recognises.
var (
	mp4Header = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2"), make([]byte, 64)...)
	pngHeader = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
)
