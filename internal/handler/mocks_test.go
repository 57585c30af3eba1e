package handler_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/service"
)

// Mocks for handler testing. Handlers only translate HTTP, so each mock
// records what it was called with and returns whatever the test set.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var alice = &model.User{
	ID:       "u1",
	Username: "alice",
	Email:    "alice@example.com",
	Avatar:   model.DefaultAvatar,
	Verified: true,
}

type MockAuthService struct {
	RegisterArgs []string
	RegisterErr  error

	VerifiedToken string
	VerifyErr     error

	LoginResult *service.AuthResult
	LoginErr    error

	ResetEmail string
	ResetArgs  []string
	ResetErr   error

	GitHubUser   *auth.GitHubUser
	GitHubResult *service.AuthResult
	GitHubErr    error
}

func (m *MockAuthService) Register(_ context.Context, username, email, password string) error {
	m.RegisterArgs = []string{username, email, password}
	return m.RegisterErr
}

func (m *MockAuthService) VerifyEmail(_ context.Context, token string) (*model.User, error) {
	m.VerifiedToken = token
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	return alice, nil
}

func (m *MockAuthService) Login(context.Context, string, string) (*service.AuthResult, error) {
	return m.LoginResult, m.LoginErr
}

func (m *MockAuthService) RequestPasswordReset(_ context.Context, email string) error {
	m.ResetEmail = email
	return nil
}

func (m *MockAuthService) ResetPassword(_ context.Context, token, password string) error {
	m.ResetArgs = []string{token, password}
	return m.ResetErr
}

func (m *MockAuthService) LoginWithGitHub(_ context.Context, gh *auth.GitHubUser) (*service.AuthResult, error) {
	m.GitHubUser = gh
	return m.GitHubResult, m.GitHubErr
}

func (m *MockAuthService) SessionTTL() time.Duration { return time.Hour }

type MockGitHub struct {
	User *auth.GitHubUser
	Err  error
	Code string
}

func (m *MockGitHub) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (m *MockGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	m.Code = code
	return m.User, m.Err
}

type MockCatalog struct {
	Videos    []model.Video
	LastQuery service.ListQuery
	ListErr   error

	Reactions []string // "like:v1:u1"
	Views     int64
	Comments  []model.Comment
}

func (m *MockCatalog) List(_ context.Context, q service.ListQuery) ([]model.Video, error) {
	m.LastQuery = q
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.Videos == nil {
		return []model.Video{}, nil
	}
	return m.Videos, nil
}

func (m *MockCatalog) Get(_ context.Context, id string) (*model.Video, error) {
	for i := range m.Videos {
		if m.Videos[i].ID == id {
			return &m.Videos[i], nil
		}
	}
	return nil, apperror.NotFound("video", id)
}

func (m *MockCatalog) reaction(kind, videoID, userID string, likes, dislikes int64, r model.Reaction) (*model.ReactionResult, error) {
	if _, err := m.Get(context.Background(), videoID); err != nil {
		return nil, err
	}
	m.Reactions = append(m.Reactions, kind+":"+videoID+":"+userID)
	return &model.ReactionResult{VideoID: videoID, Likes: likes, Dislikes: dislikes, Reaction: r}, nil
}

func (m *MockCatalog) RecordLike(_ context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return m.reaction("like", videoID, userID, 1, 0, model.ReactionLike)
}

func (m *MockCatalog) RecordDislike(_ context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return m.reaction("dislike", videoID, userID, 0, 1, model.ReactionDislike)
}

func (m *MockCatalog) ClearReaction(_ context.Context, videoID, userID string) (*model.ReactionResult, error) {
	return m.reaction("clear", videoID, userID, 0, 0, model.ReactionNone)
}

func (m *MockCatalog) RecordView(_ context.Context, videoID string) (int64, error) {
	if _, err := m.Get(context.Background(), videoID); err != nil {
		return 0, err
	}
	m.Views++
	return m.Views, nil
}

func (m *MockCatalog) AddComment(_ context.Context, videoID, userID, content string) (*model.Comment, error) {
	if content == "" {
		return nil, apperror.ValidationFailed("content", "comment cannot be empty")
	}
	c := model.Comment{ID: "c1", VideoID: videoID, AuthorID: userID, AuthorName: "alice", Content: content}
	m.Comments = append(m.Comments, c)
	return &c, nil
}

func (m *MockCatalog) ListComments(context.Context, string) ([]model.Comment, error) {
	return m.Comments, nil
}

func (m *MockCatalog) Me(_ context.Context, user *model.User) (*service.Me, error) {
	return &service.Me{Profile: user.Profile(), Verified: user.Verified, VideoIDs: []string{"v1"}, LikedVideos: []string{}}, nil
}

// MockUploader reads both files fully, like the real service would.
// Busy makes Reserve fail the way a full service does.
type MockUploader struct {
	mu       sync.Mutex
	Req      service.UploadRequest
	VideoRaw []byte
	LogoRaw  []byte
	Err      error
	Busy     bool
	Reserved int
	Released int
}

func (m *MockUploader) Reserve() (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Busy {
		return nil, apperror.TooManyRequests("too many concurrent uploads")
	}
	m.Reserved++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Released++
	}, nil
}

func (m *MockUploader) Receive(_ context.Context, req service.UploadRequest) (*model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Req = req
	if req.Video != nil {
		m.VideoRaw, _ = io.ReadAll(req.Video.Reader)
	}
	if req.Logo != nil {
		m.LogoRaw, _ = io.ReadAll(req.Logo.Reader)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &model.Video{ID: "vid1", Title: req.Title, ChannelName: req.ChannelName, OwnerID: req.OwnerID}, nil
}
