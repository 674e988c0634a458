package configs

import (
	"devi/devi/utils/logging"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PersonaConfig drives how Devi talks. Loaded from devi.yaml.
type PersonaConfig struct {
	AgentName       string `yaml:"agent_name"`
	AgentRole       string `yaml:"agent_role"`
	SystemPrompt    string `yaml:"system_prompt"`
	OutputFormat    string `yaml:"output_format"`
	HoroscopePrompt string `yaml:"horoscope_prompt"`
	FallbackReply   string `yaml:"fallback_reply"`
	MaxMessages     int    `yaml:"max_messages"`
	HistoryTurns    int    `yaml:"history_turns"`
}

func DefaultPersona() *PersonaConfig {
	return &PersonaConfig{
		AgentName:       "Devi",
		AgentRole:       "a warm Vedic astrologer chatting on a phone",
		SystemPrompt:    "You are {{name}}, {{role}}. Keep every message short and conversational.",
		OutputFormat:    `Reply ONLY with a JSON array of strings, one string per chat bubble, e.g. ["Hello!", "Let me look at your chart."]`,
		HoroscopePrompt: "Today's horoscope for the user's sign: {{horoscope}}",
		FallbackReply:   "The stars are quiet right now. Ask me again in a moment?",
		MaxMessages:     4,
		HistoryTurns:    20,
	}
}

// LoadConfig reads the persona YAML at path. Missing keys keep their defaults.
func LoadConfig(path string) (*PersonaConfig, error) {
	cfg := DefaultPersona()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", path, err)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultPersona().MaxMessages
	}
	return cfg, nil
}

// MustLoad falls back to the built-in persona when the file is unusable.
func MustLoad(path string) *PersonaConfig {
	cfg, err := LoadConfig(path)
	if err != nil {
		logging.AppLogger.Error("Config load error", zap.Error(err))
		return DefaultPersona()
	}
	return cfg
}
