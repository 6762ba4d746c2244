package anam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/pkg/logger"
)

const sessionTokenPath = "/v1/auth/session-token"

// APIError carries a non-2xx answer from the Anam API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Anam API returned %d: %s", e.StatusCode, e.Body)
}

type Service struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

type sessionTokenRequest struct {
	PersonaConfig config.PersonaConfig `json:"personaConfig"`
}

type sessionTokenResponse struct {
	SessionToken string `json:"sessionToken"`
}

func NewService() *Service {
	apiKey := config.GetAnamAPIKey()
	if apiKey == "" {
		return nil
	}
	return NewServiceWithClient(&http.Client{}, config.GetAnamBaseURL(), apiKey)
}

func NewServiceWithClient(client *http.Client, baseURL, apiKey string) *Service {
	return &Service{
		client:  client,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// CreateSessionToken exchanges persona for a short-lived session token.
func (s *Service) CreateSessionToken(ctx context.Context, persona config.PersonaConfig) (string, error) {
	jsonData, err := json.Marshal(sessionTokenRequest{PersonaConfig: persona})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sessionTokenPath, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	logger.Debug(logger.CREDENTIAL, "Requesting session token for persona %s", persona.Name)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	logger.Info(logger.CREDENTIAL, "Anam API response status: %s", resp.Status)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			body = []byte(http.StatusText(resp.StatusCode))
		}
		logger.Error(logger.CREDENTIAL, "Anam API error response: %s", string(body))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tokenResp sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return tokenResp.SessionToken, nil
}
