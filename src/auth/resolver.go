package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a credential is absent or does not
// resolve to a user. Channels that allow anonymous connections treat it
// as "stay anonymous" rather than a refusal.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is a resolved connecting user.
type Identity struct {
	UserID   int64
	Username string
}

// Resolver turns a bearer credential into a user identity.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 bearer tokens whose subject is the user ID.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{secret: secret}
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}

	var c claims
	token, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: userID, Username: c.Username}, nil
}

// Issue signs a token for identity, valid for ttl. Used by the dev
// server and tests.
func (r *JWTResolver) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identity.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("token.SignedString: %w", err)
	}
	return signed, nil
}

// StaticResolver maps fixed credentials to identities. Test double.
type StaticResolver map[string]Identity

func (r StaticResolver) Resolve(_ context.Context, credential string) (Identity, error) {
	id, ok := r[credential]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
