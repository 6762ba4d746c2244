// Package console is a line-driven terminal front end for a persona session.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/deepgram/persona-relay/pkg/lifecycle"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/notify"
)

var ErrMicrophoneDeclined = errors.New("microphone access declined")

// Speaker injects user utterances into the rendering session.
type Speaker interface {
	SendUserMessage(text string) error
}

// Controller is the part of lifecycle.Controller the console drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Unload()
	State() lifecycle.State
}

// Lines reads in on a goroutine so the Console can select on input.
func Lines(in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

// Prompt asks for microphone access on the terminal. It implements
// lifecycle.Permissions. Answers arrive through Answer, which the Console
// calls for every line typed while a question is pending.
type Prompt struct {
	renderer *Renderer

	// AssumeGranted skips the question
	AssumeGranted bool

	mu     sync.Mutex
	answer chan string
}

func NewPrompt(renderer *Renderer) *Prompt {
	return &Prompt{renderer: renderer}
}

func (p *Prompt) RequestAudio(ctx context.Context) error {
	if p.AssumeGranted {
		return nil
	}

	answer := make(chan string, 1)
	p.mu.Lock()
	p.answer = answer
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.answer == answer {
			p.answer = nil
		}
		p.mu.Unlock()
	}()

	p.renderer.Println("Allow microphone access? [y/N]")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return nil
		default:
			return ErrMicrophoneDeclined
		}
	}
}

// Answer hands line to a pending question and reports whether one was
// waiting.
func (p *Prompt) Answer(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answer == nil {
		return false
	}
	p.answer <- line
	p.answer = nil
	return true
}

type Option func(*Console)

// WithPrompt routes lines typed during a microphone question to p.
func WithPrompt(p *Prompt) Option {
	return func(c *Console) { c.prompt = p }
}

// WithNotices lets /dismiss clear the notices in q.
func WithNotices(q *notify.Queue) Option {
	return func(c *Console) { c.notices = q }
}

type Console struct {
	ctrl     Controller
	speaker  Speaker
	renderer *Renderer
	lines    <-chan string
	prompt   *Prompt
	notices  *notify.Queue

	starts sync.WaitGroup
}

func New(ctrl Controller, speaker Speaker, renderer *Renderer, lines <-chan string, opts ...Option) *Console {
	c := &Console{ctrl: ctrl, speaker: speaker, renderer: renderer, lines: lines}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run handles commands until /quit, end of input or ctx is cancelled. Start
// runs in the background so /stop can reach a session that is still
// connecting. On the way out a pending Start is cancelled and the session is
// unloaded.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer c.ctrl.Unload()
	defer c.starts.Wait()
	defer cancel()

	c.renderer.Println("Type /start to begin, /stop to end the session, /quit to exit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.lines:
			if !ok {
				return nil
			}
			if c.prompt != nil && c.prompt.Answer(line) {
				continue
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/start":
		c.starts.Add(1)
		go func() {
			defer c.starts.Done()
			if err := c.ctrl.Start(ctx); err != nil {
				logger.Debug(logger.CLIENT, "Start returned: %v", err)
			}
		}()
	case "/stop":
		c.ctrl.Stop()
	case "/dismiss":
		if c.notices != nil {
			c.notices.HideAll()
		}
	case "/help":
		c.renderer.Println("/start  /stop  /dismiss  /quit, anything else is said to the persona")
	default:
		if !c.ctrl.State().Live() {
			c.renderer.Println("No active session. Type /start first.")
			return false
		}
		if err := c.speaker.SendUserMessage(line); err != nil {
			logger.Warn(logger.CLIENT, "Failed to send message: %v", err)
		}
	}
	return false
}
