package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer("secret", "prepwise")
	tok, exp, err := iss.Issue(ScopeSession, "user-1", "iv-1", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := iss.VerifyFor(tok, "iv-1", ScopeSession)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "iv-1", claims.InterviewID)
	assert.Equal(t, ScopeSession, claims.Scope)
}

func TestVerifyRejects(t *testing.T) {
	iss := NewIssuer("secret", "prepwise")
	session, _, _ := iss.Issue(ScopeSession, "user-1", "iv-1", time.Minute)

	_, err := iss.Verify(session, ScopeWorker)
	assert.ErrorIs(t, err, ErrWrongScope)

	_, err = iss.VerifyFor(session, "iv-2", ScopeSession)
	assert.ErrorIs(t, err, ErrWrongInterview)

	_, err = NewIssuer("other", "prepwise").Verify(session)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = NewIssuer("secret", "someone-else").Verify(session)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = iss.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyExpired(t *testing.T) {
	iss := NewIssuer("secret", "prepwise")
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := iss.Issue(ScopeUser, "user-1", "", time.Minute)
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestUnboundTokenAcceptedForAnyInterview(t *testing.T) {
	iss := NewIssuer("secret", "prepwise")
	tok, _, _ := iss.Issue(ScopeUser, "user-1", "", time.Minute)
	_, err := iss.VerifyFor(tok, "iv-9", ScopeUser)
	assert.NoError(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
