// Package credential mints short-lived session credentials for the
// persona-rendering service.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/internal/infrastructure/anam"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrNotConfigured = errors.New("session credential provider is not configured")

// Minter exchanges a persona for a session token.
type Minter interface {
	CreateSessionToken(ctx context.Context, persona config.PersonaConfig) (string, error)
}

// Credential is an opaque bearer token. ExpiresAt is zero when the token
// carries no readable expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

type CredentialError struct {
	Status  int
	Message string
}

func (e *CredentialError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("session credential request failed: %s", e.Message)
	}
	return fmt.Sprintf("session credential request failed with status %d: %s", e.Status, e.Message)
}

type Service struct {
	minter  Minter
	persona config.PersonaConfig
}

func NewService(minter Minter, persona config.PersonaConfig) *Service {
	return &Service{minter: minter, persona: persona}
}

// Issue mints a fresh credential. It never retries.
func (s *Service) Issue(ctx context.Context) (Credential, error) {
	ctx, span := otel.Tracer("github.com/deepgram/persona-relay/internal/services/credential").
		Start(ctx, "credential.issue")
	defer span.End()

	if s == nil || s.minter == nil {
		span.SetStatus(codes.Error, ErrNotConfigured.Error())
		return Credential{}, ErrNotConfigured
	}

	token, err := s.minter.CreateSessionToken(ctx, s.persona)
	if err != nil {
		credErr := toCredentialError(err)
		span.RecordError(credErr)
		span.SetAttributes(attribute.Int("credential.upstream_status", credErr.Status))
		span.SetStatus(codes.Error, credErr.Error())
		return Credential{}, credErr
	}

	if token == "" {
		credErr := &CredentialError{Status: http.StatusBadGateway, Message: "empty session token"}
		span.SetStatus(codes.Error, credErr.Error())
		return Credential{}, credErr
	}

	cred := Credential{Token: token, ExpiresAt: expiryOf(token)}
	logger.Info(logger.CREDENTIAL, "Session token created: %s", logger.TokenPreview(token))
	return cred, nil
}

func toCredentialError(err error) *CredentialError {
	var apiErr *anam.APIError
	if errors.As(err, &apiErr) {
		return &CredentialError{Status: apiErr.StatusCode, Message: apiErr.Body}
	}
	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return credErr
	}
	return &CredentialError{Status: 0, Message: err.Error()}
}

// expiryOf reads the exp claim without verifying the signature. Opaque
// tokens yield the zero time.
func expiryOf(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
