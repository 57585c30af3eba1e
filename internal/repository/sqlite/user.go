package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, avatar, verified,
	verification_token, verification_expires,
	password_reset_token, password_reset_expires,
	github_id, created_at, updated_at`

// CreateUser inserts a new account. ID and timestamps are set here.
//
// Email is stored lower-cased so "Alice@X.com" and "alice@x.com" collide on
// the UNIQUE index instead of becoming two accounts.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Avatar == "" {
		user.Avatar = model.DefaultAvatar
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Avatar,
		user.Verified,
		derefOrNil(user.VerificationToken),
		unixOrNil(user.VerificationExpires),
		derefOrNil(user.PasswordResetToken),
		unixOrNil(user.PasswordResetExpires),
		derefOrNil(user.GitHubID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users.username"):
			return apperror.Conflict("username", "Username already taken")
		case isUniqueViolation(err, "users.email"):
			return apperror.Conflict("email", "Email already registered")
		case isUniqueViolation(err, "users.github_id"):
			return apperror.Conflict("githubId", "GitHub account already linked")
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, db.conn, "id", id)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return getUser(ctx, db.conn, "username", username)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return getUser(ctx, db.conn, "email", strings.ToLower(email))
}

func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return getUser(ctx, db.conn, "github_id", githubID)
}

// MarkVerified consumes a verification token in a single UPDATE, so two
// concurrent calls with the same token cannot both succeed: the second one
// finds the token already cleared.
func (db *DB) MarkVerified(ctx context.Context, token string, now time.Time) (*model.User, error) {
	var user *model.User
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`UPDATE users
			 SET verified = 1, verification_token = NULL, verification_expires = NULL, updated_at = ?
			 WHERE verification_token = ? AND verification_expires > ?
			 RETURNING id`,
			now.UTC(), token, now.Unix(),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("verification token", token)
		}
		if err != nil {
			return fmt.Errorf("sqlite: consuming verification token: %w", err)
		}

		user, err = getUser(ctx, tx, "id", id)
		return err
	})
	return user, err
}

func (db *DB) SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_reset_token = ?, password_reset_expires = ?, updated_at = ?
		 WHERE id = ?`,
		token, expires.Unix(), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing reset token for user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ResetPassword consumes a reset token and stores the new hash in one
// statement. The token is single-use.
func (db *DB) ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (*model.User, error) {
	var user *model.User
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`UPDATE users
			 SET password_hash = ?, password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
			 WHERE password_reset_token = ? AND password_reset_expires > ?
			 RETURNING id`,
			passwordHash, now.UTC(), token, now.Unix(),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("reset token", token)
		}
		if err != nil {
			return fmt.Errorf("sqlite: consuming reset token: %w", err)
		}

		user, err = getUser(ctx, tx, "id", id)
		return err
	})
	return user, err
}

// getUser loads one user by a single indexed column. column is always a
// constant from this file, never user input.
func getUser(ctx context.Context, q querier, column string, value any) (*model.User, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", fmt.Sprint(value))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                     model.User
		verifyToken, resetTok sql.NullString
		verifyExp, resetExp   sql.NullInt64
		githubID              sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Avatar,
		&u.Verified,
		&verifyToken,
		&verifyExp,
		&resetTok,
		&resetExp,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.VerificationToken = stringPtr(verifyToken)
	u.VerificationExpires = timePtr(verifyExp)
	u.PasswordResetToken = stringPtr(resetTok)
	u.PasswordResetExpires = timePtr(resetExp)
	if githubID.Valid {
		u.GitHubID = &githubID.Int64
	}
	return &u, nil
}

// Expiry columns hold unix seconds so "expires > now" is a plain integer
// comparison in SQL.
func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// derefOrNil turns an optional field into a driver value: nil becomes NULL.
func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
