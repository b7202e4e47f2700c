package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "studyassist-auth"
	defaultJWTAudience = "studyassist-api"
)

var defaultJWTLeeway = 30 * time.Second

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore issues and validates HS256 access tokens.
type JWTSessionStore struct {
	secret   []byte
	ttl      time.Duration
	revoker  TokenRevoker
	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTSessionStore builds an HS256 JWT session store. The revoker is
// optional; without one DeleteSession and RevokeUserSessions are no-ops.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// NewSession creates a signed JWT for the user ID.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// GetUserIDByToken validates a JWT and returns the subject.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", false, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, errors.New("token revoked")
		}
		if userRevoker, ok := s.revoker.(UserTokenRevoker); ok {
			cutoff, err := userRevoker.RevokedAfter(claims.Subject)
			if err != nil {
				return "", false, err
			}
			if !cutoff.IsZero() {
				if claims.IssuedAt == nil {
					return "", false, errors.New("token issued_at missing")
				}
				if !claims.IssuedAt.Time.UTC().After(cutoff) {
					return "", false, errors.New("token revoked for user")
				}
			}
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", false, errors.New("token subject missing")
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until it expires.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUserSessions revokes all sessions for a user issued before/at cutoff.
func (s *JWTSessionStore) RevokeUserSessions(userID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support user revocation")
	}
	return userRevoker.RevokeUser(userID, since)
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	return claims, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
