package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deepgram/persona-relay/internal/console"
	"github.com/deepgram/persona-relay/pkg/lifecycle"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/deepgram/persona-relay/pkg/notify"
	"github.com/deepgram/persona-relay/pkg/relayclient"
	"github.com/deepgram/persona-relay/pkg/render/wsengine"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	serverURL      string
	engineURL      string
	connectTimeout time.Duration
	assumeMic      bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "persona-console",
		Short: "Talk to an AI persona through the relay server",
		Long: "Starts a persona session against the relay server and a rendering " +
			"engine. By default the engine is the server's development emulator.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.serverURL, "server", envOr("RELAY_SERVER_URL", "http://localhost:8000"), "relay server base URL")
	flags.StringVar(&opts.engineURL, "engine", os.Getenv("RENDER_ENGINE_URL"), "rendering engine websocket URL (defaults to the server's emulator)")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", lifecycle.DefaultConnectTimeout, "how long to wait for the session to become ready")
	flags.BoolVar(&opts.assumeMic, "assume-mic", false, "do not prompt for microphone access")

	return cmd
}

func run(ctx context.Context, opts options) error {
	// keep log lines out of the conversation unless asked for
	if os.Getenv("LOG_LEVEL") == "" {
		logger.SetLevel(logger.ERROR)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineURL := opts.engineURL
	if engineURL == "" {
		engineURL = emulatorURL(opts.serverURL)
	}

	renderer := console.NewRenderer(os.Stdout)
	lines := console.Lines(os.Stdin)

	notices := notify.New()
	defer notices.Subscribe(renderer.Notice)()

	prompt := console.NewPrompt(renderer)
	prompt.AssumeGranted = opts.assumeMic

	client := relayclient.New(opts.serverURL)
	engine := wsengine.New(engineURL)

	ctrl := lifecycle.New(lifecycle.Options{
		Credentials:    client,
		Relay:          client,
		Engine:         engine,
		Permissions:    prompt,
		UI:             renderer,
		Notices:        notices,
		ConnectTimeout: opts.connectTimeout,
	})

	return console.New(ctrl, engine, renderer, lines,
		console.WithPrompt(prompt),
		console.WithNotices(notices),
	).Run(ctx)
}

func emulatorURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/emulator/ws"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
