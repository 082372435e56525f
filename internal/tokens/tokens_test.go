package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/model"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func grant() Grant {
	return Grant{
		TokenID:           "tok-1",
		AlertID:           "alert-1",
		DetectedReleaseID: "rel-1",
		CreatorID:         "creator-1",
		Action:            model.ActionDispute,
		ExpiresAt:         t0.Add(time.Hour),
	}
}

func newSigner(secret string, now time.Time) *Signer {
	s := NewSigner(StaticSecret(secret))
	s.now = func() time.Time { return now }
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newSigner("s3cret", t0)
	tok, err := s.Sign(grant())
	require.NoError(t, err)

	c, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", c.TokenID())
	assert.Equal(t, "alert-1", c.AlertID)
	assert.Equal(t, "rel-1", c.DetectedReleaseID)
	assert.Equal(t, "creator-1", c.CreatorID)
	assert.Equal(t, model.ActionDispute, c.Action)
}

func TestVerifyExpired(t *testing.T) {
	tok, err := newSigner("s3cret", t0).Sign(grant())
	require.NoError(t, err)

	_, err = newSigner("s3cret", t0.Add(2*time.Hour)).Verify(tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := newSigner("s3cret", t0).Sign(grant())
	require.NoError(t, err)

	_, err = newSigner("other", t0).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := newSigner("s3cret", t0).Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSignRejectsUnknownAction(t *testing.T) {
	g := grant()
	g.Action = "delete"
	_, err := newSigner("s3cret", t0).Sign(g)
	assert.Error(t, err)
}

func TestSecretReadPerCall(t *testing.T) {
	secret := "first"
	calls := 0
	s := NewSigner(func() ([]byte, error) {
		calls++
		return []byte(secret), nil
	})
	s.now = func() time.Time { return t0 }

	tok, err := s.Sign(grant())
	require.NoError(t, err)
	secret = "rotated"
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 2, calls)
}

func TestMissingSecret(t *testing.T) {
	_, err := NewSigner(StaticSecret("")).Sign(grant())
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = NewSigner(func() ([]byte, error) { return nil, errors.New("config unreadable") }).Sign(grant())
	assert.Error(t, err)
}
