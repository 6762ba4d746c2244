package handlers

import (
	"errors"
	"net/http"

	"github.com/deepgram/persona-relay/internal/services/credential"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/rs/zerolog"
)

type sessionCredentialResponse struct {
	SessionToken string `json:"sessionToken"`
}

func HandleSessionCredential(credentialService *credential.Service, w http.ResponseWriter, r *http.Request) {
	l := zerolog.Ctx(r.Context())

	cred, err := credentialService.Issue(r.Context())
	if err != nil {
		details := err.Error()
		var credErr *credential.CredentialError
		if errors.As(err, &credErr) {
			details = credErr.Message
			l.Error().Int("upstream_status", credErr.Status).Str("details", details).Msg("Failed to create session")
		} else {
			l.Error().Err(err).Msg("Failed to create session")
		}

		httpext.JsonErrorWithDetails(w, http.StatusInternalServerError, httpext.ErrorResponse{
			Error:   "Failed to create session",
			Details: details,
		})
		return
	}

	l.Info().Str("token_preview", logger.TokenPreview(cred.Token)).Time("expires_at", cred.ExpiresAt).Msg("Session credential issued")
	httpext.JsonResponse(w, http.StatusOK, sessionCredentialResponse{SessionToken: cred.Token})
}
