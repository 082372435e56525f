// Package tokens issues and verifies the signed action tokens embedded in
// alert links. A token binds one alert, release, creator and action; the
// token ID (jti) is shared by every action link of an alert and stored on the
// alert row so that consuming it once invalidates all of them.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-monitor/internal/model"
)

var (
	// ErrExpired is returned for a well-formed token past its expiry.
	ErrExpired = eris.New("tokens: token expired")
	// ErrInvalid is returned for tokens that fail signature or claim checks.
	ErrInvalid = eris.New("tokens: invalid token")
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = eris.New("tokens: signing secret not configured")
)

const issuer = "catalog-monitor"

// SecretFunc returns the current signing secret. It is called on every sign
// and verify so secret rotation needs no restart.
type SecretFunc func() ([]byte, error)

// StaticSecret returns a SecretFunc for a fixed secret.
func StaticSecret(secret string) SecretFunc {
	return func() ([]byte, error) { return []byte(secret), nil }
}

// Claims is the JWT payload of an action token.
type Claims struct {
	AlertID           string       `json:"alert_id"`
	DetectedReleaseID string       `json:"detected_release_id"`
	CreatorID         string       `json:"creator_id"`
	Action            model.Action `json:"action"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (c *Claims) TokenID() string { return c.ID }

// Grant describes the token to issue.
type Grant struct {
	TokenID           string
	AlertID           string
	DetectedReleaseID string
	CreatorID         string
	Action            model.Action
	ExpiresAt         time.Time
}

// Signer signs and verifies action tokens with HS256.
type Signer struct {
	secret SecretFunc
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret SecretFunc) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

func (s *Signer) key() ([]byte, error) {
	k, err := s.secret()
	if err != nil {
		return nil, eris.Wrap(err, "tokens: load secret")
	}
	if len(k) == 0 {
		return nil, ErrNoSecret
	}
	return k, nil
}

// Sign issues a token for g.
func (s *Signer) Sign(g Grant) (string, error) {
	if _, ok := model.ParseAction(string(g.Action)); !ok {
		return "", eris.Errorf("tokens: unknown action %q", g.Action)
	}
	key, err := s.key()
	if err != nil {
		return "", err
	}

	claims := Claims{
		AlertID:           g.AlertID,
		DetectedReleaseID: g.DetectedReleaseID,
		CreatorID:         g.CreatorID,
		Action:            g.Action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        g.TokenID,
			Issuer:    issuer,
			Subject:   g.CreatorID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", eris.Wrap(err, "tokens: sign")
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, eris.Wrap(ErrInvalid, err.Error())
	}
	if claims.ID == "" || claims.AlertID == "" || claims.DetectedReleaseID == "" || claims.CreatorID == "" {
		return nil, eris.Wrap(ErrInvalid, "missing binding claims")
	}
	if _, ok := model.ParseAction(string(claims.Action)); !ok {
		return nil, eris.Wrap(ErrInvalid, "unknown action")
	}
	return claims, nil
}
