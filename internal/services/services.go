package services

import (
	"fmt"
	"sync"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/internal/connections"
	"github.com/deepgram/persona-relay/internal/emulator"
	"github.com/deepgram/persona-relay/internal/infrastructure/anam"
	"github.com/deepgram/persona-relay/internal/infrastructure/openai"
	"github.com/deepgram/persona-relay/internal/infrastructure/redis"
	"github.com/deepgram/persona-relay/internal/services/credential"
	"github.com/deepgram/persona-relay/internal/services/relay"
	"github.com/deepgram/persona-relay/pkg/ratelimit"
	"github.com/rs/zerolog/log"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	relayService      *relay.Service
	credentialService *credential.Service
	redisService      *redis.Service
	emulatorTokens    *emulator.TokenMinter
	connections       *connections.Manager
}

// Options wires an explicit set of services, mainly for tests.
type Options struct {
	Relay          *relay.Service
	Credential     *credential.Service
	Redis          *redis.Service
	EmulatorTokens *emulator.TokenMinter
	Connections    *connections.Manager
}

func New(opts Options) *Services {
	if opts.Connections == nil {
		opts.Connections = connections.NewManager(connections.DefaultTimeouts)
	}
	return &Services{
		relayService:      opts.Relay,
		credentialService: opts.Credential,
		redisService:      opts.Redis,
		emulatorTokens:    opts.EmulatorTokens,
		connections:       opts.Connections,
	}
}

// InitializeServices initializes all required services
func InitializeServices() (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	persona, err := config.GetPersona()
	if err != nil {
		return nil, fmt.Errorf("failed to load persona: %w", err)
	}
	log.Info().Str("persona", persona.Name).Str("avatar_id", persona.AvatarID).Msg("Persona loaded")

	// OpenAI is required for the relay
	openAIService := openai.NewService()
	if openAIService == nil {
		log.Error().Msg("Failed to initialize OpenAI service - service is required for chat streaming")
		return nil, fmt.Errorf("OpenAI service not configured")
	}

	relayService := relay.NewService(openAIService.GetClient(), relay.Config{
		Model:        config.GetOpenAIModel(),
		Temperature:  config.GetOpenAITemperature(),
		SystemPrompt: config.GetRelaySystemPrompt(),
		ReadTimeout:  config.GetRelayReadTimeout(),
	})
	log.Info().Msg("Initializing relay service")

	// Redis is optional and only backs shared rate limits
	redisService := redis.NewService()
	log.Info().Bool("enabled", redisService != nil).Msg("Initializing Redis service")

	var tokens *emulator.TokenMinter
	if config.IsEmulatorEnabled() {
		tokens, err = emulator.NewTokenMinterFromConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize emulator: %w", err)
		}
		log.Info().Msg("Initializing rendering emulator")
	}

	var minter credential.Minter
	if anamService := anam.NewService(); anamService != nil {
		minter = anamService
	} else if tokens != nil {
		log.Warn().Msg("ANAM_API_KEY missing - issuing emulator session credentials")
		minter = tokens
	} else {
		log.Warn().Msg("ANAM_API_KEY missing - session credential endpoint will fail")
	}
	credentialService := credential.NewService(minter, persona)
	log.Info().Msg("Initializing credential service")

	log.Info().Msg("All services initialized successfully")

	return New(Options{
		Relay:          relayService,
		Credential:     credentialService,
		Redis:          redisService,
		EmulatorTokens: tokens,
	}), nil
}

func (s *Services) GetRelayService() *relay.Service {
	return s.relayService
}

func (s *Services) GetCredentialService() *credential.Service {
	return s.credentialService
}

// GetEmulatorTokens returns nil when the emulator is disabled.
func (s *Services) GetEmulatorTokens() *emulator.TokenMinter {
	return s.emulatorTokens
}

func (s *Services) GetConnections() *connections.Manager {
	return s.connections
}

// GetRateLimitCounter returns the shared counter, or nil when limits stay
// in process memory.
func (s *Services) GetRateLimitCounter() ratelimit.Counter {
	if s.redisService == nil {
		return nil
	}
	return s.redisService
}

// Close releases the services holding network connections.
func (s *Services) Close() error {
	if s.redisService != nil {
		return s.redisService.Close()
	}
	return nil
}
