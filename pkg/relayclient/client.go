// Package relayclient talks to the relay server: it fetches session
// credentials and reads relayed replies as newline-delimited JSON.
package relayclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/logger"
)

var ErrMalformedChunk = errors.New("malformed stream chunk")

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	Status  int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("relay server returned %d", e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionCredential asks the server to mint a fresh session credential.
func (c *Client) SessionCredential(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session-credential", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request session credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var body struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode session credential: %w", err)
	}
	if body.SessionToken == "" {
		return "", errors.New("server returned an empty session credential")
	}

	return body.SessionToken, nil
}

// ChatStream posts history and returns a reader over the relayed reply.
// The caller must Close the reader.
func (c *Client) ChatStream(ctx context.Context, history []chat.ChatMessage) (*ChunkReader, error) {
	payload, err := json.Marshal(struct {
		Messages []chat.ChatMessage `json:"messages"`
	}{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return newChunkReader(resp.Body), nil
}

// OpenReply adapts ChatStream to chat.ChunkStream.
func (c *Client) OpenReply(ctx context.Context, history []chat.ChatMessage) (chat.ChunkStream, error) {
	cr, err := c.ChatStream(ctx, history)
	if err != nil {
		return nil, err
	}
	return cr, nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return se
	}

	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.Message = body.Error
		se.Details = body.Details
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}

// ChunkReader yields chunks lazily, one per line. After the first error every
// call to Next returns that same error.
type ChunkReader struct {
	body io.ReadCloser
	r    *bufio.Reader

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func newChunkReader(body io.ReadCloser) *ChunkReader {
	return &ChunkReader{body: body, r: bufio.NewReader(body)}
}

// Next returns the next non-empty chunk, io.EOF at the end of the reply, or
// an error if the body was truncated or a line could not be decoded.
func (cr *ChunkReader) Next() (chat.StreamChunk, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	for cr.err == nil {
		line, err := cr.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)

		if len(trimmed) > 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				cr.err = fmt.Errorf("chat stream interrupted: %w", err)
				break
			}
			if err != nil {
				// a last line without its newline means the server stopped mid-write
				cr.err = fmt.Errorf("%w: truncated line", ErrMalformedChunk)
				break
			}

			var payload struct {
				Content *string `json:"content"`
			}
			if jsonErr := json.Unmarshal(trimmed, &payload); jsonErr != nil || payload.Content == nil {
				logger.Warn(logger.CLIENT, "Discarding chat stream after malformed line")
				cr.err = fmt.Errorf("%w: %q", ErrMalformedChunk, truncate(string(trimmed), 64))
				break
			}
			if *payload.Content == "" {
				continue
			}
			return chat.StreamChunk{Content: *payload.Content}, nil
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			cr.err = io.EOF
		default:
			cr.err = fmt.Errorf("chat stream interrupted: %w", err)
		}
	}

	return chat.StreamChunk{}, cr.err
}

func (cr *ChunkReader) Close() error {
	var err error
	cr.closeOnce.Do(func() {
		err = cr.body.Close()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
