// Package token issues and validates the bearer credentials of the API:
// short-lived access tokens (with a freshness flag) and longer-lived
// refresh tokens, both HS256 JWTs carrying the user id as subject and a
// unique jti checked against the logout blocklist.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess marks a token usable on protected endpoints.
	TypeAccess = "access"
	// TypeRefresh marks a token usable only on the refresh endpoint.
	TypeRefresh = "refresh"

	defaultIssuer   = "stockroom-api"
	defaultAudience = "stockroom"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

var defaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers malformed, badly signed, or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevoked indicates the token's jti is on the blocklist.
	ErrRevoked = errors.New("token revoked")
	// ErrWrongType indicates an access token used as refresh or vice versa.
	ErrWrongType = errors.New("wrong token type")
)

// Claims are the JWT claims carried by every token.
type Claims struct {
	Fresh bool   `json:"fresh"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim back into a user id.
func (c Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token subject: %w", err)
	}
	return uint(id), nil
}

// Revoker is the blocklist consulted during validation.
type Revoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

// Options configures an Issuer.
type Options struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	Revoker    Revoker
}

// Issuer signs and verifies access and refresh tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	revoker    Revoker
}

// NewIssuer builds an issuer; the signing secret is required.
func NewIssuer(opts Options) (*Issuer, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return &Issuer{
		secret:     []byte(secret),
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		leeway:     opts.Leeway,
		revoker:    opts.Revoker,
	}, nil
}

// IssueAccess signs an access token for the user. Tokens minted at login
// are fresh; tokens minted by refresh are not.
func (i *Issuer) IssueAccess(userID uint, fresh bool) (string, error) {
	return i.sign(userID, TypeAccess, fresh, i.accessTTL)
}

// IssueRefresh signs a refresh token for the user.
func (i *Issuer) IssueRefresh(userID uint) (string, error) {
	return i.sign(userID, TypeRefresh, false, i.refreshTTL)
}

func (i *Issuer) sign(userID uint, tokenType string, fresh bool, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Fresh: fresh,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifyAccess validates an access token, including the blocklist check.
func (i *Issuer) VerifyAccess(raw string) (Claims, error) {
	return i.verify(raw, TypeAccess)
}

// VerifyRefresh validates a refresh token, including the blocklist check.
func (i *Issuer) VerifyRefresh(raw string) (Claims, error) {
	return i.verify(raw, TypeRefresh)
}

func (i *Issuer) verify(raw, wantType string) (Claims, error) {
	claims := Claims{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithLeeway(i.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidToken
	}
	if claims.Type != wantType {
		return claims, ErrWrongType
	}
	if i.revoker != nil {
		revoked, err := i.revoker.IsRevoked(claims.ID)
		if err != nil {
			return claims, fmt.Errorf("check blocklist: %w", err)
		}
		if revoked {
			return claims, ErrRevoked
		}
	}
	return claims, nil
}

// Revoke adds the token's jti to the blocklist until the token expires.
func (i *Issuer) Revoke(claims Claims) error {
	if i.revoker == nil || claims.ExpiresAt == nil {
		return nil
	}
	return i.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}
