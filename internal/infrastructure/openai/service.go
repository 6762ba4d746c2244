package openai

import (
	"sync"

	"github.com/deepgram/persona-relay/internal/config"
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

type Service struct {
	mu     sync.RWMutex
	client *openai.Client
}

func NewService() *Service {
	logger.Info(logger.SERVICE, "Initialising OpenAI service")
	key := config.GetOpenAIKey()

	if key == "" {
		logger.Warn(logger.SERVICE, "OpenAI service not configured - OPENAI_API_KEY missing")
		return nil
	}

	cfg := openai.DefaultConfig(key)
	if baseURL := config.GetOpenAIBaseURL(); baseURL != "" {
		logger.Info(logger.SERVICE, "Using OpenAI base URL %s", baseURL)
		cfg.BaseURL = baseURL
	}

	return NewServiceWithConfig(cfg)
}

// NewServiceWithConfig builds the service around an explicit client configuration
func NewServiceWithConfig(cfg openai.ClientConfig) *Service {
	return &Service{
		client: openai.NewClientWithConfig(cfg),
	}
}

func (s *Service) GetClient() *openai.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}
