package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/deepgram/persona-relay/pkg/logger"
	"gopkg.in/yaml.v3"
)

// PersonaConfig describes the rendered persona sent with every session
// credential request. It is loaded once and never mutated afterwards.
type PersonaConfig struct {
	Name         string `json:"name" yaml:"name"`
	AvatarID     string `json:"avatarId" yaml:"avatarId"`
	VoiceID      string `json:"voiceId" yaml:"voiceId"`
	// LLMID selects the persona brain. The custom-brain identifier disables the
	// vendor's built-in LLM so turns are served by the relay.
	LLMID        string `json:"llmId" yaml:"llmId"`
	SystemPrompt string `json:"systemPrompt" yaml:"systemPrompt"`
}

const defaultPersonaSystemPrompt = "You are Cara, a helpful AI assistant. Be friendly, concise, and helpful in your responses. " +
	"Prioritize user wellbeing and avoid encouraging self-destructive behaviors. " +
	"Provide direct responses without unnecessary flattery or praise - never start responses by calling ideas (good,great, fascinating,) or other positive adjectives. " +
	"Be honest and accurate, even when it may not be what the user wants to hear. " +
	"Critically evaluate claims and ideas rather than automatically agreeing, respectfully pointing out flaws or lack of evidence while distinguishing between literal facts and metaphorical interpretations. " +
	"Maintain objectivity while being compassionate and supportive. Keep responses concise with a warm, friendly tone. " +
	"Avoid emojis unless the user uses them first or specifically requests them. Don't use asterisk actions or emotes unless specifically asked. " +
	"Watch for signs of mental health concerns and respond appropriately, suggesting professional help when needed without being patronizing. " +
	"Maintain clear boundaries between roleplay and genuine conversation, breaking character if it creates confusion about your AI nature. " +
	"You have detailed knowledge about The Rise Tech Village, a private 300-acre technology research campus in Kandy, Sri Lanka, founded by Dr. Harsha Subasinghe as part of the CodeGen Group, " +
	"housing ~27 companies including Vega Innovations (known for the Vega EVX electric supercar), TravelBox™, AiGROW, and chargeNET, " +
	"operating on a (Showcase and Scale) strategy focused on AI, e-mobility, agricultural technology, and sustainable energy " +
	"with the goal of reducing brain drain and building Sri Lankan IP-driven technology capabilities. " +
	"Remember: Your goal is to be genuinely helpful while maintaining honesty and supporting the user's long-term wellbeing."

// DefaultPersona returns the built-in Cara persona
func DefaultPersona() PersonaConfig {
	return PersonaConfig{
		Name:         "Cara",
		AvatarID:     "30fa96d0-26c4-4e55-94a0-517025942e18",
		VoiceID:      "6bfbe25a-979d-40f3-a92b-5394170af54b",
		LLMID:        "9c931011-0978-4cd2-93d6-89ef931b4022",
		SystemPrompt: defaultPersonaSystemPrompt,
	}
}

var (
	personaOnce sync.Once
	persona     PersonaConfig
	personaErr  error
)

// GetPersona loads the persona on first use and returns the same value for
// the rest of the process lifetime.
func GetPersona() (PersonaConfig, error) {
	personaOnce.Do(func() {
		persona, personaErr = LoadPersona(GetEnvOrDefault("PERSONA_CONFIG_PATH", ""))
	})
	return persona, personaErr
}

// LoadPersona layers the defaults, an optional YAML file and PERSONA_* environment overrides.
func LoadPersona(path string) (PersonaConfig, error) {
	p := DefaultPersona()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return PersonaConfig{}, fmt.Errorf("failed to read persona file: %w", err)
		}

		var fromFile PersonaConfig
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return PersonaConfig{}, fmt.Errorf("failed to parse persona file %s: %w", path, err)
		}
		p = mergePersona(p, fromFile)
		logger.Info(logger.CONFIG, "Loaded persona %q from %s", p.Name, path)
	}

	p = mergePersona(p, PersonaConfig{
		Name:         GetEnvOrDefault("PERSONA_NAME", ""),
		AvatarID:     GetEnvOrDefault("PERSONA_AVATAR_ID", ""),
		VoiceID:      GetEnvOrDefault("PERSONA_VOICE_ID", ""),
		LLMID:        GetEnvOrDefault("PERSONA_LLM_ID", ""),
		SystemPrompt: GetEnvOrDefault("PERSONA_SYSTEM_PROMPT", ""),
	})

	if p.AvatarID == "" || p.VoiceID == "" {
		return PersonaConfig{}, fmt.Errorf("persona %q is missing avatarId or voiceId", p.Name)
	}

	return p, nil
}

func mergePersona(base, override PersonaConfig) PersonaConfig {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.AvatarID != "" {
		base.AvatarID = override.AvatarID
	}
	if override.VoiceID != "" {
		base.VoiceID = override.VoiceID
	}
	if override.LLMID != "" {
		base.LLMID = override.LLMID
	}
	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}
