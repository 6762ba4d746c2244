package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionStreamResponse
	failAfter error
	block     chan struct{}
	closed    int
}

func delta(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
}

func (f *fakeSource) Recv() (openai.ChatCompletionStreamResponse, error) {
	f.mu.Lock()
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()
		return resp, nil
	}
	block := f.block
	failAfter := f.failAfter
	f.mu.Unlock()

	if block != nil {
		<-block
		return openai.ChatCompletionStreamResponse{}, errors.New("source closed")
	}
	if failAfter != nil {
		return openai.ChatCompletionStreamResponse{}, failAfter
	}
	return openai.ChatCompletionStreamResponse{}, io.EOF
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.block != nil {
		select {
		case <-f.block:
		default:
			close(f.block)
		}
	}
	return nil
}

func newTestService(src *fakeSource, openErr error) (*Service, *[]openai.ChatCompletionRequest) {
	var requests []openai.ChatCompletionRequest
	s := NewService(nil, Config{Model: "gpt-4o-mini", Temperature: 0.7, SystemPrompt: "be brief"})
	s.open = func(ctx context.Context, req openai.ChatCompletionRequest) (deltaSource, error) {
		requests = append(requests, req)
		if openErr != nil {
			return nil, openErr
		}
		return src, nil
	}
	return s, &requests
}

func userTurn(text string) []chat.ChatMessage {
	return []chat.ChatMessage{{Role: chat.RoleUser, Content: text}}
}

func drain(t *testing.T, st *Stream) ([]string, error) {
	t.Helper()
	var got []string
	for {
		chunk, err := st.Recv()
		if err != nil {
			return got, err
		}
		got = append(got, chunk.Content)
	}
}

func TestStreamDeliversDeltasInOrder(t *testing.T) {
	src := &fakeSource{responses: []openai.ChatCompletionStreamResponse{
		delta("Hel"),
		delta(""),
		{},
		delta("lo"),
		delta("!"),
	}}
	s, requests := newTestService(src, nil)

	st, err := s.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	got, err := drain(t, st)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
	assert.Equal(t, 3, st.Chunks())

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.True(t, req.Stream)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 0.0001)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)

	_, err = st.Recv()
	assert.ErrorIs(t, err, io.EOF, "end of stream is sticky")
	assert.NoError(t, st.Close())
}

func TestStreamRejectsInvalidHistory(t *testing.T) {
	tests := []struct {
		name    string
		history []chat.ChatMessage
	}{
		{"empty", nil},
		{"assistant last", []chat.ChatMessage{
			{Role: chat.RoleUser, Content: "Hi"},
			{Role: chat.RoleAssistant, Content: "Hello"},
		}},
		{"unknown role", []chat.ChatMessage{{Role: "system", Content: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, requests := newTestService(&fakeSource{}, nil)
			_, err := s.Stream(context.Background(), tt.history)
			assert.ErrorIs(t, err, ErrInvalidHistory)
			assert.Empty(t, *requests, "no upstream request for a rejected history")
		})
	}
}

func TestStreamMapsRoles(t *testing.T) {
	s, requests := newTestService(&fakeSource{}, nil)
	history := []chat.ChatMessage{
		{Role: chat.RoleUser, Content: "Hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
		{Role: chat.RoleUser, Content: "What can you do?"},
	}

	st, err := s.Stream(context.Background(), history)
	require.NoError(t, err)
	defer st.Close()

	msgs := (*requests)[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, "What can you do?", msgs[3].Content)
}

func TestStreamOpenFailure(t *testing.T) {
	s, _ := newTestService(nil, errors.New("connection refused"))

	_, err := s.Stream(context.Background(), userTurn("Hi"))

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "open", relayErr.Op)
}

func TestStreamFailureMidStreamIsSticky(t *testing.T) {
	upstream := errors.New("upstream reset")
	src := &fakeSource{
		responses: []openai.ChatCompletionStreamResponse{delta("partial ")},
		failAfter: upstream,
	}
	s, _ := newTestService(src, nil)

	st, err := s.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	got, err := drain(t, st)
	assert.Equal(t, []string{"partial "}, got)

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.ErrorIs(t, err, upstream)

	_, again := st.Recv()
	assert.Same(t, err, again)
	assert.NoError(t, st.Close())
	assert.Equal(t, 1, src.closed)
}

func TestStreamReadTimeout(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	s, _ := newTestService(src, nil)
	s.cfg.ReadTimeout = 20 * time.Millisecond

	st, err := s.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	_, err = st.Recv()
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.GreaterOrEqual(t, src.closed, 1)
}

func TestCloseBeforeEnd(t *testing.T) {
	src := &fakeSource{responses: []openai.ChatCompletionStreamResponse{delta("a"), delta("b")}}
	s, _ := newTestService(src, nil)

	st, err := s.Stream(context.Background(), userTurn("Hi"))
	require.NoError(t, err)

	_, err = st.Recv()
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.Equal(t, 1, src.closed)

	_, err = st.Recv()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func writeSSE(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload, err := json.Marshal(delta(content))
	require.NoError(t, err)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func TestStreamAgainstOpenAIServer(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(t, w, "Hi ")
		writeSSE(t, w, "")
		writeSSE(t, w, "there")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	s := NewService(openai.NewClientWithConfig(cfg), Config{
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		SystemPrompt: "system",
	})

	st, err := s.Stream(context.Background(), userTurn("Hello"))
	require.NoError(t, err)
	defer st.Close()

	chunks, err := drain(t, st)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hi ", "there"}, chunks)
	assert.True(t, got.Stream)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestStreamAgainstFailingOpenAIServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-bad")
	cfg.BaseURL = srv.URL + "/v1"
	s := NewService(openai.NewClientWithConfig(cfg), Config{Model: "gpt-4o-mini"})

	_, err := s.Stream(context.Background(), userTurn("Hello"))

	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "open", relayErr.Op)
}
