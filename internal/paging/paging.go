// Package paging produces and validates opaque continuation tokens for task
// listings.
//
// Tasks are listed newest first, ordered by (creation time, id) descending.
// A token carries the position of the last task returned and a hash of the
// filter it was issued for, signed so that callers cannot forge positions.
package paging

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultPageSize is used when the caller sends no page size or a
	// non-positive one.
	DefaultPageSize = 256
	// MaxPageSize caps any requested page size.
	MaxPageSize = 2048
)

// ErrInvalidToken indicates a malformed, tampered or mismatched page token.
var ErrInvalidToken = errors.New("invalid page token")

// ClampPageSize maps a requested size into (0, MaxPageSize].
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// Cursor is a position in the listing order.
type Cursor struct {
	CreatedAt int64
	ID        string
}

// Scope identifies the filter a token belongs to.
func Scope(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:8])
}

type pageClaims struct {
	CreatedAt int64  `json:"c"`
	ID        string `json:"i"`
	Scope     string `json:"s"`
	jwt.RegisteredClaims
}

// Paginator signs and verifies page tokens.
type Paginator struct {
	key []byte
}

// New creates a Paginator with the given signing secret. An empty secret
// gets a random per-process key, so tokens do not survive a restart.
func New(secret string) (*Paginator, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate page token key: %w", err)
		}
	}
	return &Paginator{key: key}, nil
}

// Encode returns the token for resuming after c within scope.
func (p *Paginator) Encode(c Cursor, scope string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, pageClaims{
		CreatedAt: c.CreatedAt,
		ID:        c.ID,
		Scope:     scope,
	})
	s, err := tok.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign page token: %w", err)
	}
	return s, nil
}

// Decode verifies token and returns its cursor. An empty token means the
// first page and yields a nil cursor.
func (p *Paginator) Decode(token, scope string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	var claims pageClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return p.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: token was issued for a different filter", ErrInvalidToken)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing position", ErrInvalidToken)
	}
	return &Cursor{CreatedAt: claims.CreatedAt, ID: claims.ID}, nil
}
