// Package auth issues and verifies the bearer tokens used across the system.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrWrongScope   = errors.New("auth: token scope not accepted")
	// ErrWrongInterview is returned when a token is bound to a different interview.
	ErrWrongInterview = errors.New("auth: token not valid for this interview")
)

// Scope says what a token may be used for.
type Scope string

const (
	// ScopeUser authenticates a user against the control API.
	ScopeUser Scope = "user"
	// ScopeSession lets the interview owner open relay connections.
	ScopeSession Scope = "session"
	// ScopeWorker lets a relay worker call the backend for one interview.
	ScopeWorker Scope = "worker"
)

// Claims carried by every token.
type Claims struct {
	UserID      string `json:"user_id"`
	InterviewID string `json:"interview_id,omitempty"`
	Scope       Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an issuer. secret must be non-empty.
func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for userID, optionally bound to interviewID.
func (i *Issuer) Issue(scope Scope, userID, interviewID string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(ttl)
	claims := Claims{
		UserID:      userID,
		InterviewID: interviewID,
		Scope:       scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and checks its signature, expiry, issuer and scope.
func (i *Issuer) Verify(token string, scopes ...Scope) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrTokenInvalid)
	}

	if len(scopes) > 0 {
		ok := false
		for _, s := range scopes {
			if claims.Scope == s {
				ok = true
				break
			}
		}
		if !ok {
			return nil, ErrWrongScope
		}
	}
	return claims, nil
}

// VerifyFor additionally requires the token to be bound to interviewID.
func (i *Issuer) VerifyFor(token, interviewID string, scopes ...Scope) (*Claims, error) {
	claims, err := i.Verify(token, scopes...)
	if err != nil {
		return nil, err
	}
	if claims.InterviewID != "" && claims.InterviewID != interviewID {
		return nil, ErrWrongInterview
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
