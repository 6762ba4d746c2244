// Package relay turns one chat history into one upstream completion stream
// and hands the generated text back as an ordered sequence of chunks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/deepgram/persona-relay/internal/services/relay"

var (
	ErrInvalidHistory = errors.New("invalid chat history")
	ErrReadTimeout    = errors.New("upstream read timed out")
)

// RelayError is the single terminal error of a failed relay.
type RelayError struct {
	Op  string
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Provider opens streamed chat completions. *openai.Client satisfies it.
type Provider interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// deltaSource is the part of an upstream stream the relay reads from.
type deltaSource interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

type Config struct {
	Model        string
	Temperature  float32
	SystemPrompt string
	// ReadTimeout bounds each upstream read. Zero disables the bound.
	ReadTimeout  time.Duration
}

type Service struct {
	open   func(ctx context.Context, req openai.ChatCompletionRequest) (deltaSource, error)
	cfg    Config
	tracer trace.Tracer
}

func NewService(provider Provider, cfg Config) *Service {
	return &Service{
		open: func(ctx context.Context, req openai.ChatCompletionRequest) (deltaSource, error) {
			stream, err := provider.CreateChatCompletionStream(ctx, req)
			if err != nil {
				return nil, err
			}
			return stream, nil
		},
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Stream opens exactly one upstream request for history. The history must
// end with a user turn. The returned Stream must be closed by the caller.
func (s *Service) Stream(ctx context.Context, history []chat.ChatMessage) (*Stream, error) {
	if err := chat.ValidateHistory(history); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHistory, err)
	}

	ctx, span := s.tracer.Start(ctx, "relay.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("relay.model", s.cfg.Model),
			attribute.Int("relay.messages", len(history)),
		),
	)

	req := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    s.buildMessages(history),
		Stream:      true,
		Temperature: s.cfg.Temperature,
	}

	logger.Debug(logger.RELAY, "Opening upstream stream with %d messages", len(history))

	src, err := s.open(ctx, req)
	if err != nil {
		relayErr := &RelayError{Op: "open", Err: err}
		span.RecordError(relayErr)
		span.SetStatus(codes.Error, relayErr.Error())
		span.End()
		return nil, relayErr
	}

	return &Stream{
		src:         src,
		readTimeout: s.cfg.ReadTimeout,
		span:        span,
	}, nil
}

func (s *Service) buildMessages(history []chat.ChatMessage) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.cfg.SystemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleAssistant
		if m.Role == chat.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	return messages
}

// Stream is a lazy, single-reader sequence of chunks from one upstream
// completion. It is finite and cannot be restarted.
type Stream struct {
	src         deltaSource
	readTimeout time.Duration
	span        trace.Span

	mu     sync.Mutex
	err    error
	chunks int
	ended  bool
}

type recvResult struct {
	resp openai.ChatCompletionStreamResponse
	err  error
}

// Recv returns the next non-empty chunk. It returns io.EOF when the upstream
// completes and a *RelayError on any failure. Once either has been returned,
// every later call returns the same value.
func (st *Stream) Recv() (chat.StreamChunk, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for st.err == nil {
		resp, err := st.recvOne()
		if errors.Is(err, io.EOF) {
			st.finishLocked(io.EOF)
			break
		}
		if err != nil {
			st.finishLocked(&RelayError{Op: "recv", Err: err})
			break
		}

		if len(resp.Choices) == 0 {
			continue
		}
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		st.chunks++
		return chat.StreamChunk{Content: content}, nil
	}

	return chat.StreamChunk{}, st.err
}

// Next lets a Stream be used wherever a chat.ChunkStream is expected.
func (st *Stream) Next() (chat.StreamChunk, error) {
	return st.Recv()
}

func (st *Stream) recvOne() (openai.ChatCompletionStreamResponse, error) {
	if st.readTimeout <= 0 {
		return st.src.Recv()
	}

	ch := make(chan recvResult, 1)
	go func() {
		resp, err := st.src.Recv()
		ch <- recvResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(st.readTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		// closing the upstream unblocks the pending read
		_ = st.src.Close()
		return openai.ChatCompletionStreamResponse{}, fmt.Errorf("%w after %s", ErrReadTimeout, st.readTimeout)
	}
}

// Chunks returns how many chunks have been delivered so far.
func (st *Stream) Chunks() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.chunks
}

// Close releases the upstream. It is safe to call more than once and after
// the stream has ended.
func (st *Stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.ended {
		return nil
	}
	if st.err == nil {
		st.err = &RelayError{Op: "recv", Err: errors.New("stream closed")}
	}
	st.endLocked()
	return st.src.Close()
}

func (st *Stream) finishLocked(err error) {
	st.err = err
	if !errors.Is(err, io.EOF) {
		logger.Warn(logger.RELAY, "Upstream stream failed after %d chunks: %v", st.chunks, err)
		st.span.RecordError(err)
		st.span.SetStatus(codes.Error, err.Error())
	}
	st.endLocked()
	_ = st.src.Close()
}

func (st *Stream) endLocked() {
	if st.ended {
		return
	}
	st.ended = true
	st.span.SetAttributes(attribute.Int("relay.chunks", st.chunks))
	st.span.End()
}
