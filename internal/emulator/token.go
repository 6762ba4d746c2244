package emulator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "persona-relay-emulator"

var ErrInvalidToken = errors.New("invalid emulator session token")

// Claims identify one emulator session.
type Claims struct {
	SessionID string `json:"sid"`
	Persona   string `json:"persona,omitempty"`
	jwt.RegisteredClaims
}

// TokenMinter issues and checks HS256 session tokens for the emulator. It
// stands in for the hosted token endpoint when no vendor key is configured.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenMinter(secret []byte, ttl time.Duration) *TokenMinter {
	return &TokenMinter{secret: secret, ttl: ttl, now: time.Now}
}

// NewTokenMinterFromConfig uses EMULATOR_SECRET, or a random per-process
// secret when it is unset.
func NewTokenMinterFromConfig() (*TokenMinter, error) {
	secret := []byte(config.GetEmulatorSecret())
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate emulator secret: %w", err)
		}
	}
	return NewTokenMinter(secret, config.GetEmulatorTokenTTL()), nil
}

func (m *TokenMinter) CreateSessionToken(_ context.Context, persona config.PersonaConfig) (string, error) {
	now := m.now()
	claims := Claims{
		SessionID: uuid.New().String(),
		Persona:   persona.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign emulator token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature, issuer and expiry of token.
func (m *TokenMinter) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}
