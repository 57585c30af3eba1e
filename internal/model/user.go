// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// DefaultAvatar is assigned to accounts that never uploaded their own.
const DefaultAvatar = "default-avatar.png"

// User represents a registered account.
//
// Accounts are created through email registration (password + verification
// token) or through GitHub sign-in. GitHub accounts arrive already verified
// and have no password hash.
//
// WHY POINTERS FOR THE TOKEN FIELDS?
// A token is either present or absent. *string / *time.Time map cleanly to
// NULL columns, so "cleared" is distinguishable from "empty string".
//
// Sensitive fields carry `json:"-"` so a User can be written straight to an
// HTTP response without leaking hashes or tokens.
type User struct {
	ID                   string     `json:"id"        db:"id"`
	Username             string     `json:"username"  db:"username"`
	Email                string     `json:"email"     db:"email"` // always lower-case
	PasswordHash         string     `json:"-"         db:"password_hash"`
	Avatar               string     `json:"avatar"    db:"avatar"`
	Verified             bool       `json:"verified"  db:"verified"`
	VerificationToken    *string    `json:"-"         db:"verification_token"`
	VerificationExpires  *time.Time `json:"-"         db:"verification_expires"`
	PasswordResetToken   *string    `json:"-"         db:"password_reset_token"`
	PasswordResetExpires *time.Time `json:"-"         db:"password_reset_expires"`
	GitHubID             *int64     `json:"githubId,omitempty" db:"github_id"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time  `json:"updatedAt" db:"updated_at"`
}

// Profile is the public subset of a User returned by login.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// Profile returns the public view of the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
	}
}
