package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// server
	Port       string
	LogDir     string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	JWTSecret  string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string

	LLMProvider  string // ollama | groq | openai
	LLMModel     string
	OllamaURL    string
	GroqAPIKey   string
	OpenAIAPIKey string
	PersonaPath  string

	HoroscopeURL      string
	HoroscopeSelector string
	HoroscopeSign     string

	// client
	ModelURL       string
	LocalStorePath string
	DebounceWindow time.Duration
	PreSendDelay   time.Duration
	RevealMin      time.Duration
	RevealMax      time.Duration
	RequestTimeout time.Duration
}

func LoadConfig() Config {
	// .env is optional, system environment wins
	_ = godotenv.Load()

	return Config{
		Port:       getEnv("PORT", "8000"),
		LogDir:     getEnv("LOG_DIR", "./logs"),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "devi-exchanges"),

		LLMProvider:  getEnv("LLM_PROVIDER", "ollama"),
		LLMModel:     getEnv("LLM_MODEL", "llama3:8b"),
		OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434/api"),
		GroqAPIKey:   getEnv("GROQ_API_KEY", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		PersonaPath:  getEnv("PERSONA_PATH", "devi/agents/configs/devi.yaml"),

		HoroscopeURL:      getEnv("HOROSCOPE_URL", ""),
		HoroscopeSelector: getEnv("HOROSCOPE_SELECTOR", "main p"),
		HoroscopeSign:     getEnv("HOROSCOPE_SIGN", ""),

		ModelURL:       getEnv("MODEL_URL", "http://localhost:8000/model"),
		LocalStorePath: getEnv("LOCAL_STORE_PATH", defaultStorePath()),
		DebounceWindow: getDuration("DEBOUNCE_WINDOW", 10*time.Second),
		PreSendDelay:   getDuration("PRE_SEND_DELAY", 2*time.Second),
		RevealMin:      getDuration("REVEAL_MIN", 3*time.Second),
		RevealMax:      getDuration("REVEAL_MAX", 6*time.Second),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 0),
	}
}

// DatabaseEnabled reports whether enough DB settings are present to connect.
func (c Config) DatabaseEnabled() bool {
	return c.DBHost != "" && c.DBName != ""
}

func (c Config) MinIOEnabled() bool {
	return c.MinIOEndpoint != ""
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

// getDuration accepts Go durations ("10s") or plain milliseconds ("10000").
func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devi"
	}
	return home + "/.devi/store"
}
