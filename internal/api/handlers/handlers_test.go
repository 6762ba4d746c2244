package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/internal/emulator"
	"github.com/deepgram/persona-relay/internal/infrastructure/anam"
	"github.com/deepgram/persona-relay/internal/services"
	"github.com/deepgram/persona-relay/internal/services/credential"
	"github.com/deepgram/persona-relay/internal/services/relay"
	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/httpext"
	"github.com/deepgram/persona-relay/pkg/relayclient"
	"github.com/gorilla/mux"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstreamScript is what the fake OpenAI server sends for one request.
type upstreamScript struct {
	status int
	deltas []string
	// raw is written after the deltas instead of the [DONE] marker
	raw    string
}

func newOpenAIServer(t *testing.T, script upstreamScript) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if script.status != 0 && script.status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(script.status)
			fmt.Fprint(w, `{"error":{"message":"upstream unavailable","type":"server_error"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range script.deltas {
			payload, _ := json.Marshal(openai.ChatCompletionStreamResponse{
				Choices: []openai.ChatCompletionStreamChoice{
					{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			w.(http.Flusher).Flush()
		}
		if script.raw != "" {
			fmt.Fprint(w, script.raw)
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRelay(t *testing.T, script upstreamScript) *relay.Service {
	t.Helper()
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = newOpenAIServer(t, script).URL + "/v1"
	return relay.NewService(openai.NewClientWithConfig(cfg), relay.Config{
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		SystemPrompt: config.GetRelaySystemPrompt(),
	})
}

func newServer(t *testing.T, opts services.Options) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	RegisterRoutes(router, services.New(opts))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) httpext.ErrorResponse {
	t.Helper()
	var body httpext.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHandleChatStream(t *testing.T) {
	srv := newServer(t, services.Options{
		Relay: newRelay(t, upstreamScript{deltas: []string{"Hello", "", " there", "!"}}),
	})

	for _, path := range []string{"/chat-stream", "/api/chat-stream"} {
		t.Run(path, func(t *testing.T) {
			resp := postJSON(t, srv.URL+path, `{"messages":[{"role":"user","content":"Hi"}]}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, httpext.NDJSONContentType, resp.Header.Get("Content-Type"))

			var lines []string
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			require.NoError(t, scanner.Err())
			assert.Equal(t, []string{
				`{"content":"Hello"}`,
				`{"content":" there"}`,
				`{"content":"!"}`,
			}, lines)
		})
	}
}

func TestHandleChatStreamValidation(t *testing.T) {
	srv := newServer(t, services.Options{
		Relay: newRelay(t, upstreamScript{deltas: []string{"unused"}}),
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"messages":`},
		{"missing messages", `{}`},
		{"empty messages", `{"messages":[]}`},
		{"unknown role", `{"messages":[{"role":"system","content":"x"}]}`},
		{"assistant last", `{"messages":[{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/chat-stream", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp).Error)
		})
	}
}

func TestHandleChatStreamRejectsOversizedBody(t *testing.T) {
	srv := newServer(t, services.Options{
		Relay: newRelay(t, upstreamScript{deltas: []string{"unused"}}),
	})

	huge := strings.Repeat("a", maxChatRequestBytes)
	resp := postJSON(t, srv.URL+"/chat-stream", `{"messages":[{"role":"user","content":"`+huge+`"}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Request body too large", decodeError(t, resp).Error)
}

func TestHandleChatStreamFailureBeforeFirstChunk(t *testing.T) {
	tests := []struct {
		name   string
		script upstreamScript
	}{
		{"upstream status", upstreamScript{status: http.StatusServiceUnavailable}},
		{"malformed first event", upstreamScript{raw: "data: {not json\n\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, services.Options{Relay: newRelay(t, tt.script)})

			resp := postJSON(t, srv.URL+"/chat-stream", `{"messages":[{"role":"user","content":"Hi"}]}`)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, streamFailedMessage, decodeError(t, resp).Error)
		})
	}
}

func TestHandleChatStreamFailureMidStreamAborts(t *testing.T) {
	srv := newServer(t, services.Options{
		Relay: newRelay(t, upstreamScript{
			deltas: []string{"partial "},
			raw:    "data: {not json\n\n",
		}),
	})

	client := relayclient.New(srv.URL)
	reader, err := client.ChatStream(context.Background(), []chat.ChatMessage{{Role: chat.RoleUser, Content: "Hi"}})
	require.NoError(t, err)
	defer reader.Close()

	chunk, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial ", chunk.Content)

	_, err = reader.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF, "an aborted reply must not look complete")
}

func TestHandleSessionCredential(t *testing.T) {
	anamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/session-token", r.URL.Path)
		assert.Equal(t, "Bearer anam-key", r.Header.Get("Authorization"))

		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "personaConfig")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sessionToken":"session-abc"}`)
	}))
	defer anamSrv.Close()

	minter := anam.NewServiceWithClient(anamSrv.Client(), anamSrv.URL, "anam-key")
	srv := newServer(t, services.Options{
		Credential: credential.NewService(minter, config.DefaultPersona()),
	})

	for _, path := range []string{"/session-credential", "/api/session-token"} {
		t.Run(path, func(t *testing.T) {
			resp := postJSON(t, srv.URL+path, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body sessionCredentialResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "session-abc", body.SessionToken)
		})
	}
}

func TestHandleSessionCredentialFailure(t *testing.T) {
	anamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "invalid api key")
	}))
	defer anamSrv.Close()

	minter := anam.NewServiceWithClient(anamSrv.Client(), anamSrv.URL, "bad")
	srv := newServer(t, services.Options{
		Credential: credential.NewService(minter, config.DefaultPersona()),
	})

	resp := postJSON(t, srv.URL+"/session-credential", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decodeError(t, resp)
	assert.Equal(t, "Failed to create session", body.Error)
	assert.Equal(t, "invalid api key", body.Details)
}

func TestHandleHealth(t *testing.T) {
	srv := newServer(t, services.Options{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestEmulatorRouteOnlyWhenEnabled(t *testing.T) {
	disabled := newServer(t, services.Options{})
	resp, err := http.Get(disabled.URL + "/v1/emulator/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	enabled := newServer(t, services.Options{
		EmulatorTokens: emulator.NewTokenMinter([]byte("secret"), time.Hour),
	})
	resp, err = http.Get(enabled.URL + "/v1/emulator/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "mounted but requires a session token")
}
