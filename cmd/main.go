package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deepgram/persona-relay/internal/api/handlers"
	"github.com/deepgram/persona-relay/internal/api/middleware"
	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/internal/services"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// a missing .env file is fine outside development
	_ = godotenv.Load()

	configureLogging()

	svc, err := services.InitializeServices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, ":"+config.GetPort(), setupRouter(svc), svc); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server stopped")
}

func configureLogging() {
	zerolog.SetGlobalLevel(logger.ZerologLevel())
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		logger.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupRouter(svc *services.Services) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.RateLimit("global", svc.GetRateLimitCounter()))

	handlers.RegisterRoutes(r, svc)
	return r
}

// run serves until ctx is cancelled, then drains in-flight requests and
// closes emulator sessions within the shutdown timeout.
func run(ctx context.Context, addr string, handler http.Handler, svc *services.Services) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(logger.APP, "Server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(logger.APP, "Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetShutdownTimeout())
		defer cancel()

		// hijacked websocket connections are not tracked by Shutdown
		if closed := svc.GetConnections().CloseAll("server shutting down"); closed > 0 {
			logger.Info(logger.APP, "Closed %d emulator sessions", closed)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
