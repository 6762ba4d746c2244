package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/deepgram/persona-relay/internal/services/relay"
	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	streamFailedMessage = "An error occurred while streaming response"

	maxChatRequestBytes = 1 << 20
)

type chatStreamRequest struct {
	Messages []chat.ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

// use a single instance of Validate, it caches struct info
var validate = validator.New(validator.WithRequiredStructEnabled())

// HandleChatStream relays one reply as NDJSON, one {"content": ...} line per
// chunk. A failure after the first line aborts the connection so the client
// sees a truncated body instead of a well-formed end.
func HandleChatStream(relayService *relay.Service, w http.ResponseWriter, r *http.Request) {
	l := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxChatRequestBytes)

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			l.Warn().Int64("limit", tooLarge.Limit).Msg("Chat request body too large")
			httpext.JsonError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		l.Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(req); err != nil {
		l.Warn().Err(err).Msg("Request validation failed")
		httpext.JsonError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	nd, err := httpext.NewNDJSONWriter(w)
	if err != nil {
		l.Error().Err(err).Msg("Streaming not supported by response writer")
		httpext.JsonError(w, streamFailedMessage, http.StatusInternalServerError)
		return
	}

	stream, err := relayService.Stream(r.Context(), chat.Clone(req.Messages))
	if err != nil {
		if errors.Is(err, relay.ErrInvalidHistory) {
			l.Warn().Err(err).Msg("Chat history rejected")
			httpext.JsonError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		l.Error().Err(err).Msg("Failed to open chat stream")
		httpext.JsonError(w, streamFailedMessage, http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	l.Info().Int("message_count", len(req.Messages)).Msg("Chat stream opened")

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			l.Info().Int("chunks", stream.Chunks()).Msg("Chat stream completed")
			return
		}
		if err != nil {
			if !nd.Started() {
				l.Error().Err(err).Msg("Chat stream failed before first chunk")
				httpext.JsonError(w, streamFailedMessage, http.StatusInternalServerError)
				return
			}
			l.Error().Err(err).Int("chunks", stream.Chunks()).Msg("Chat stream failed mid-response, aborting")
			panic(http.ErrAbortHandler)
		}

		if err := nd.Write(chunk); err != nil {
			l.Warn().Err(err).Msg("Client went away during chat stream")
			return
		}
	}
}
