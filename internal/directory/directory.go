// Package directory is the user directory capability consumed by the session manager: create a
// user, look one up, and check a password. Profile storage itself lives outside this service.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNicknameTaken is returned by Create when the nickname already exists.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrNotFound is returned when a lookup that requires a result finds none.
	ErrNotFound = errors.New("user not found")
	// ErrUnavailable is returned when the directory cannot be reached after retries.
	ErrUnavailable = errors.New("user directory unavailable")
	// ErrInvalidInput is returned for an empty nickname or password.
	ErrInvalidInput = errors.New("nickname and password are required")
)

// Profile is the public view of a user.
type Profile struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory is the user directory. Find methods return (nil, nil) when no user matches.
type Directory interface {
	Create(ctx context.Context, nickname, password string) (*Profile, error)
	VerifyCredentials(ctx context.Context, nickname, password string) (bool, error)
	FindByID(ctx context.Context, id string) (*Profile, error)
	FindByNickname(ctx context.Context, nickname string) (*Profile, error)
}
