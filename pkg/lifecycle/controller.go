// Package lifecycle drives one live persona session from start to teardown.
//
// A Controller owns the session state, the connection timer and the
// single-flight teardown guard. Every transition happens under one lock, and
// work that outlives a transition (timer callbacks, engine events, a connect
// call that returns late) is tagged with the attempt it belongs to so that it
// becomes a no-op once that attempt has ended.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/deepgram/persona-relay/pkg/chat"
	"github.com/deepgram/persona-relay/pkg/clock"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/notify"
	"github.com/deepgram/persona-relay/pkg/render"
)

const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultTeardownGuardDelay = 500 * time.Millisecond

	Greeting = "Hello! I'm Cara, powered by a custom AI brain. How can I help you today?"
	Apology  = "I'm sorry, I encountered an error while processing your request. Please try again."
)

// Credentials mints one session credential per call.
type Credentials interface {
	SessionCredential(ctx context.Context) (string, error)
}

// Relay opens a streamed reply for a history that ends with a user turn.
type Relay interface {
	OpenReply(ctx context.Context, history []chat.ChatMessage) (chat.ChunkStream, error)
}

// Permissions asks the user for microphone access.
type Permissions interface {
	RequestAudio(ctx context.Context) error
}

// UI reflects session state to the user. Methods are called while the
// Controller holds its lock and must not call back into it.
type UI interface {
	SetControls(Controls)
	ShowHistory([]chat.ChatMessage)
}

type Options struct {
	Credentials Credentials
	Relay       Relay
	Engine      render.Engine
	Permissions Permissions
	UI          UI
	Notices     *notify.Queue
	Clock       clock.Clock

	ConnectTimeout     time.Duration
	TeardownGuardDelay time.Duration

	// OnStateChange is called under the Controller lock for every transition.
	OnStateChange func(from, to State)
}

type Controller struct {
	credentials Credentials
	relay       Relay
	engine      render.Engine
	permissions Permissions
	ui          UI
	notices     *notify.Queue
	clock       clock.Clock

	connectTimeout time.Duration
	guardDelay     time.Duration
	onStateChange  func(from, to State)

	mu            sync.Mutex
	state         State
	starting      bool
	tearingDown   bool
	attempt       uint64
	abortErr      error
	cancelAttempt context.CancelFunc
	timer         clock.Timer
	loadingID     string
	unsubscribe   func()

	turns       [][]chat.ChatMessage
	turnSignal  chan struct{}
	cancelTurns context.CancelFunc
}

func New(opts Options) *Controller {
	c := &Controller{
		credentials:    opts.Credentials,
		relay:          opts.Relay,
		engine:         opts.Engine,
		permissions:    opts.Permissions,
		ui:             opts.UI,
		notices:        opts.Notices,
		clock:          opts.Clock,
		connectTimeout: opts.ConnectTimeout,
		guardDelay:     opts.TeardownGuardDelay,
		onStateChange:  opts.OnStateChange,
		state:          Idle,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.notices == nil {
		c.notices = notify.New(notify.WithClock(c.clock))
	}
	if c.ui == nil {
		c.ui = nopUI{}
	}
	if c.permissions == nil {
		c.permissions = grantAll{}
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.guardDelay <= 0 {
		c.guardDelay = DefaultTeardownGuardDelay
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Notices() *notify.Queue {
	return c.notices
}

// Start begins a new session. It returns once the credential has been
// fetched and the engine connect has been issued; readiness is reported
// through engine events. A Start that is superseded by a timeout or Stop
// returns ErrConnectTimeout or ErrStopped. Cancelling ctx before the connect
// is issued ends the attempt silently and returns ctx.Err().
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle || c.starting || c.tearingDown {
		logger.Info(logger.CLIENT, "Start ignored while %s", c.state)
		c.mu.Unlock()
		return ErrBusy
	}
	c.starting = true
	c.ui.SetControls(startingControls)
	c.mu.Unlock()

	if err := c.permissions.RequestAudio(ctx); err != nil {
		c.mu.Lock()
		c.starting = false
		if ctx.Err() != nil {
			c.ui.SetControls(idleControls)
			c.mu.Unlock()
			return ctx.Err()
		}

		logger.Warn(logger.CLIENT, "Audio permission denied or unavailable: %v", err)
		c.notices.Warning("Audio permission required for voice", notify.Options{
			Title:       "Audio Permission",
			Description: "Please allow microphone access for voice conversations",
		})
		c.ui.SetControls(idleControls)
		c.mu.Unlock()
		return &PermissionError{Err: err}
	}

	c.mu.Lock()
	c.starting = false
	c.attempt++
	attempt := c.attempt
	c.abortErr = nil
	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancelAttempt = cancel
	c.setStateLocked(Connecting)
	c.loadingID, _ = c.notices.Loading("Connecting to AI persona...", notify.Options{
		Title:       "Connecting",
		Description: "Please wait while we establish the connection",
	})
	c.timer = c.clock.AfterFunc(c.connectTimeout, func() { c.onConnectTimeout(attempt) })
	c.mu.Unlock()

	logger.Info(logger.CLIENT, "Fetching session credential")
	credential, err := c.credentials.SessionCredential(attemptCtx)
	if stale, abortErr := c.isStale(attempt); stale {
		return abortErr
	}
	if err != nil {
		if ctx.Err() != nil {
			c.abandonConnect(attempt, ctx.Err())
			return ctx.Err()
		}
		err = &CredentialError{Err: err}
		c.failConnect(attempt, err)
		return err
	}
	logger.Info(logger.CLIENT, "Session credential received: %s", logger.TokenPreview(credential))

	c.mu.Lock()
	if c.attempt != attempt {
		abortErr := c.abortErr
		c.mu.Unlock()
		return abortErr
	}
	c.unsubscribe = c.engine.Subscribe(func(ev render.Event) { c.handleEvent(attempt, ev) })
	c.mu.Unlock()

	if err := c.engine.Connect(attemptCtx, credential); err != nil {
		if stale, abortErr := c.isStale(attempt); stale {
			return abortErr
		}
		if ctx.Err() != nil {
			c.abandonConnect(attempt, ctx.Err())
			return ctx.Err()
		}
		c.failConnect(attempt, err)
		return err
	}

	if stale, abortErr := c.isStale(attempt); stale {
		// the attempt ended while connect was in flight; undo its effect
		if err := c.engine.StopStreaming(); err != nil {
			logger.Warn(logger.CLIENT, "Failed to stop late connection: %v", err)
		}
		return abortErr
	}

	logger.Info(logger.CLIENT, "Connect issued, waiting for session ready")
	return nil
}

// Stop ends the session on the user's request and shows a notice.
func (c *Controller) Stop() {
	c.teardown(true)
}

// Unload ends the session silently, as when the host application exits.
func (c *Controller) Unload() {
	c.teardown(false)
}

func (c *Controller) isStale(attempt uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return true, c.abortErr
	}
	return false, nil
}

func (c *Controller) onConnectTimeout(attempt uint64) {
	c.mu.Lock()
	if c.attempt != attempt || c.state != Connecting {
		c.mu.Unlock()
		return
	}

	logger.Error(logger.CLIENT, "Connection timeout after %s", c.connectTimeout)
	unsubscribe := c.abandonAttemptLocked(ErrConnectTimeout)
	c.notices.Error("Connection timed out", notify.Options{
		Title:       "Connection Timeout",
		Description: "Unable to connect to AI service. Please try again.",
	})
	c.ui.SetControls(idleControls)
	c.setStateLocked(Idle)
	c.mu.Unlock()

	c.release(unsubscribe)
}

func (c *Controller) failConnect(attempt uint64, err error) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}

	logger.Error(logger.CLIENT, "Failed to start conversation: %v", err)
	unsubscribe := c.abandonAttemptLocked(err)
	c.notices.Error("Connection failed", notify.Options{
		Title:       "Connection Error",
		Description: err.Error(),
	})
	c.ui.SetControls(idleControls)
	c.setStateLocked(Idle)
	c.mu.Unlock()

	c.release(unsubscribe)
}

// abandonConnect ends an attempt whose caller went away. Like Unload it
// shows nothing.
func (c *Controller) abandonConnect(attempt uint64, reason error) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}

	logger.Info(logger.CLIENT, "Connect abandoned: %v", reason)
	unsubscribe := c.abandonAttemptLocked(reason)
	c.ui.SetControls(idleControls)
	c.setStateLocked(Idle)
	c.mu.Unlock()

	c.release(unsubscribe)
}

// abandonAttemptLocked invalidates the current attempt and returns the event
// unsubscribe function the caller must run after unlocking.
func (c *Controller) abandonAttemptLocked(reason error) func() {
	c.attempt++
	c.abortErr = reason
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancelTurns != nil {
		c.cancelTurns()
		c.cancelTurns = nil
	}
	c.turns = nil
	c.hideLoadingLocked()

	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	return unsubscribe
}

func (c *Controller) release(unsubscribe func()) {
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := c.engine.StopStreaming(); err != nil {
		logger.Warn(logger.CLIENT, "Failed to stop streaming: %v", err)
	}
}

func (c *Controller) hideLoadingLocked() {
	if c.loadingID != "" {
		c.notices.Hide(c.loadingID)
		c.loadingID = ""
	}
}

func (c *Controller) teardown(userInitiated bool) {
	c.mu.Lock()
	if c.tearingDown {
		logger.Info(logger.CLIENT, "Already disconnecting, skipping")
		c.mu.Unlock()
		return
	}
	if c.state == Idle {
		logger.Debug(logger.CLIENT, "Stop ignored, no active session")
		c.mu.Unlock()
		return
	}

	c.tearingDown = true
	c.setStateLocked(Disconnecting)
	unsubscribe := c.abandonAttemptLocked(ErrStopped)
	c.mu.Unlock()

	// stop the media before the UI is cleared
	c.release(unsubscribe)

	c.mu.Lock()
	if userInitiated && !c.notices.HasActive(notify.Info, "Session Ended") {
		c.notices.Info("Disconnected", notify.Options{
			Title:       "Session Ended",
			Description: "Your conversation has been ended",
		})
	}
	c.ui.ShowHistory(nil)
	c.ui.SetControls(idleControls)
	c.setStateLocked(Idle)
	c.clock.AfterFunc(c.guardDelay, func() {
		c.mu.Lock()
		c.tearingDown = false
		c.mu.Unlock()
	})
	c.mu.Unlock()

	logger.Info(logger.CLIENT, "Conversation stopped")
}

func (c *Controller) handleEvent(attempt uint64, ev render.Event) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		logger.Debug(logger.CLIENT, "Dropping %s event from an ended attempt", ev.Type)
		return
	}

	switch ev.Type {
	case render.EventReady:
		if c.state != Connecting {
			c.mu.Unlock()
			return
		}
		c.becomeReadyLocked(attempt)
		c.mu.Unlock()

		if err := c.engine.Talk(context.Background(), Greeting); err != nil {
			logger.Warn(logger.CLIENT, "Failed to send greeting: %v", err)
		}

	case render.EventHistoryUpdated:
		c.ui.ShowHistory(chat.Clone(ev.Messages))
		if c.state.Live() && chat.AwaitingReply(ev.Messages) {
			c.turns = append(c.turns, chat.Clone(ev.Messages))
			c.setStateLocked(Active)
			select {
			case c.turnSignal <- struct{}{}:
			default:
			}
		}
		c.mu.Unlock()

	case render.EventClosed:
		c.mu.Unlock()
		logger.Info(logger.CLIENT, "Connection closed: %s", ev.Reason)
		c.teardown(false)

	case render.EventStreamInterrupted:
		c.mu.Unlock()
		logger.Info(logger.CLIENT, "Talk stream interrupted by user")

	default:
		c.mu.Unlock()
	}
}

func (c *Controller) becomeReadyLocked(attempt uint64) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.hideLoadingLocked()
	c.notices.Success("Connected successfully!", notify.Options{
		Title:       "Connected",
		Description: "Your AI assistant is ready to chat",
	})
	c.ui.SetControls(liveControls)
	c.setStateLocked(Ready)

	turnCtx, cancel := context.WithCancel(context.Background())
	c.cancelTurns = cancel
	c.turnSignal = make(chan struct{}, 1)
	go c.runTurns(turnCtx, attempt, c.turnSignal)

	logger.Info(logger.CLIENT, "Session ready")
}

// runTurns relays queued turns one at a time so a reply is never started
// before the previous one has drained or failed.
func (c *Controller) runTurns(ctx context.Context, attempt uint64, signal <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
		}

		for {
			c.mu.Lock()
			if c.attempt != attempt {
				c.mu.Unlock()
				return
			}
			if len(c.turns) == 0 {
				if c.state == Active {
					c.setStateLocked(Ready)
				}
				c.mu.Unlock()
				break
			}
			history := c.turns[0]
			c.turns = c.turns[1:]
			c.mu.Unlock()

			c.runTurn(ctx, history)
		}
	}
}

func (c *Controller) runTurn(ctx context.Context, history []chat.ChatMessage) {
	logger.Debug(logger.CLIENT, "Getting relayed reply for %d messages", len(history))

	talk, err := c.engine.OpenTextStream(ctx)
	if err != nil {
		logger.Error(logger.CLIENT, "Failed to open text stream: %v", err)
		return
	}

	err = c.streamReply(ctx, history, talk)
	if talk.IsActive() {
		if endErr := talk.End(); endErr != nil {
			logger.Warn(logger.CLIENT, "Failed to end text stream: %v", endErr)
		}
	}
	if err == nil {
		logger.Debug(logger.CLIENT, "Relayed reply complete")
		return
	}
	if ctx.Err() != nil {
		return
	}

	logger.Error(logger.CLIENT, "Relayed reply failed: %v", err)
	if talkErr := c.engine.Talk(ctx, Apology); talkErr != nil {
		logger.Warn(logger.CLIENT, "Failed to speak apology: %v", talkErr)
	}
}

func (c *Controller) streamReply(ctx context.Context, history []chat.ChatMessage, talk render.TextStream) error {
	reply, err := c.relay.OpenReply(ctx, history)
	if err != nil {
		return err
	}
	defer reply.Close()

	for {
		chunk, err := reply.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk.Content == "" || !talk.IsActive() {
			continue
		}
		if err := talk.Chunk(chunk.Content, false); err != nil && talk.IsActive() {
			return err
		}
	}
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	logger.Debug(logger.CLIENT, "Session state %s -> %s", from, to)
	if c.onStateChange != nil {
		c.onStateChange(from, to)
	}
}

type nopUI struct{}

func (nopUI) SetControls(Controls) {}

func (nopUI) ShowHistory([]chat.ChatMessage) {}

type grantAll struct{}

func (grantAll) RequestAudio(context.Context) error { return nil }
