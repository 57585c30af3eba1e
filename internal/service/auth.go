package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/notify"
	"github.com/sakif/vidshare/internal/repository"
)

// Account validation limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 8
)

// AuthService handles registration, verification, login and sessions.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt), Notifier
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository → the credential store
//   - tokens     *auth.TokenService        → issue/validate session JWTs
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - notifier   notify.Notifier           → hands out verification/reset tokens
//   - logger     *slog.Logger              → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	notifier  notify.Notifier
	logger    *slog.Logger

	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time
}

// AuthConfig carries the token lifetimes. Zero values mean 24h and 1h.
type AuthConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	notifier notify.Notifier,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &AuthService{
		users:           users,
		tokens:          tokens,
		passwords:       passwords,
		notifier:        notifier,
		logger:          logger,
		verificationTTL: cfg.VerificationTTL,
		resetTTL:        cfg.ResetTTL,
		now:             time.Now,
	}
}

// AuthResult bundles the user and the issued JWT so the handler can set
// the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates an unverified account and sends its verification token.
//
// The caller only learns "registered" or a validation/conflict error; the
// token itself travels through the Notifier, never in the response.
func (s *AuthService) Register(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := validateUsername(username); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	token := uuid.NewString()
	expires := s.now().Add(s.verificationTTL)
	user := &model.User{
		Username:            username,
		Email:               email,
		PasswordHash:        hash,
		VerificationToken:   &token,
		VerificationExpires: &expires,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return err
		}
		return fmt.Errorf("service/auth: creating user %q: %w", username, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("username", user.Username))

	// Delivery failures are logged; the account stays.
	if err := s.notifier.SendVerification(ctx, user, token); err != nil {
		s.logger.Error("sending verification token failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// VerifyEmail consumes a verification token. A token works once and only
// until it expires.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.InvalidToken("verification")
	}

	user, err := s.users.MarkVerified(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidToken("verification")
		}
		return nil, fmt.Errorf("service/auth: verifying email: %w", err)
	}

	s.logger.Info("email verified", slog.String("userID", user.ID))
	return user, nil
}

// Login checks a username/password pair and issues a session token.
//
// Unknown username, wrong password and unverified account all return the
// same InvalidCredentials error, and all of them pay for one bcrypt
// comparison.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.passwords.VerifyDummy(password)
		return nil, apperror.InvalidCredentials()
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(password)
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	// GitHub-only accounts have no password to compare against.
	if user.PasswordHash == "" {
		s.passwords.VerifyDummy(password)
		return nil, apperror.InvalidCredentials()
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: checking password for %s: %w", user.ID, err)
	}
	if !user.Verified {
		s.logger.Info("login refused for unverified account", slog.String("userID", user.ID))
		return nil, apperror.InvalidCredentials()
	}

	return s.issue(user)
}

// Authenticate resolves a session token to a verified user. It never
// writes anything.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.Unauthenticated()
	}

	userID, err := s.tokens.Validate(token)
	if err != nil {
		s.logger.Debug("rejected session token", slog.String("error", err.Error()))
		return nil, apperror.Unauthenticated()
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated()
		}
		return nil, fmt.Errorf("service/auth: loading session user %s: %w", userID, err)
	}
	if !user.Verified {
		return nil, apperror.Unauthenticated()
	}
	return user, nil
}

// RequestPasswordReset issues a reset token when the email belongs to an
// account. It reports success either way so the endpoint cannot be used to
// probe which emails are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("service/auth: looking up email: %w", err)
	}

	token := uuid.NewString()
	if err := s.users.SetPasswordResetToken(ctx, user.ID, token, s.now().Add(s.resetTTL)); err != nil {
		return fmt.Errorf("service/auth: storing reset token for %s: %w", user.ID, err)
	}
	if err := s.notifier.SendPasswordReset(ctx, user, token); err != nil {
		s.logger.Error("sending reset token failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.InvalidToken("password reset")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.ResetPassword(ctx, token, hash, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.InvalidToken("password reset")
		}
		return fmt.Errorf("service/auth: resetting password: %w", err)
	}

	s.logger.Info("password reset", slog.String("userID", user.ID))
	return nil
}

// LoginWithGitHub signs in (or signs up) the owner of a GitHub account.
//
// GitHub has already verified the identity, so new accounts are created
// verified and without a password. An existing email/password account with
// the same email is NOT linked automatically: the GitHub account gets its
// own user with GitHub's no-reply address instead.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user, err := s.users.GetUserByGitHubID(ctx, gh.ID)
	switch {
	case err == nil:
		return s.issue(user)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up github user %d: %w", gh.ID, err)
	}

	user, err = s.createGitHubUser(ctx, gh)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return s.issue(user)
}

func (s *AuthService) createGitHubUser(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(gh.Email))
	if email == "" {
		email = gh.NoReplyEmail()
	}
	usernames := githubUsernames(gh)
	githubID := gh.ID

	// Each conflict changes either the username or the email, so a handful
	// of attempts covers every combination.
	for attempt := 0; attempt < 4; attempt++ {
		user := &model.User{
			Username: usernames[0],
			Email:    email,
			Avatar:   gh.AvatarURL,
			Verified: true,
			GitHubID: &githubID,
		}
		err := s.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}

		var appErr *apperror.AppError
		if !errors.Is(err, apperror.ErrConflict) || !errors.As(err, &appErr) {
			return nil, fmt.Errorf("service/auth: creating github user %d: %w", gh.ID, err)
		}
		switch {
		case appErr.Field == "githubId":
			// Lost a race with a concurrent callback for the same account.
			return s.users.GetUserByGitHubID(ctx, gh.ID)
		case appErr.Field == "email" && email != gh.NoReplyEmail():
			email = gh.NoReplyEmail()
		case appErr.Field == "username" && len(usernames) > 1:
			usernames = usernames[1:]
		default:
			return nil, err
		}
	}
	return nil, apperror.Conflict("username", "no free username for this GitHub account")
}

// githubUsernames lists the usernames tried, in order, for a new GitHub
// account: the login itself, then the login qualified with the GitHub ID.
func githubUsernames(gh *auth.GitHubUser) []string {
	login := gh.Login
	for utf8.RuneCountInString(login) < MinUsernameLength {
		login += "_"
	}
	return []string{
		truncateRunes(login, MaxUsernameLength),
		truncateRunes(fmt.Sprintf("%s-gh%d", login, gh.ID), MaxUsernameLength),
	}
}

// GetUserByID returns the user for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id is required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// SessionTTL is the lifetime of issued session tokens (used for the cookie).
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// =========================================================================
// VALIDATION
// =========================================================================

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// normalizeEmail trims and lower-cases an address and rejects anything that
// is not a bare addr-spec ("Name <a@b>" is refused).
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		return "", apperror.ValidationFailed("email", "please enter a valid email")
	}
	return email, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
