package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/livekit"
)

// Config holds the configuration for the worker.
type Config struct {
	// LiveKit configuration
	LiveKitURL         string
	LiveKitAPIKey      string
	LiveKitAPISecret   string
	AgentName          string
	Namespace          string
	JobType            livekit.JobType
	DrainTimeout       time.Duration
	MaxConcurrentJobs  int
	LogLevel           string
	PProfAddr          string
	LoadUpdateInterval time.Duration

	// Speech-to-text configuration
	DeepgramAPIKey string
	DeepgramURL    string
	STTSampleRate  int

	// Translation configuration
	OpenAIAPIKey       string
	TranslateModel     string
	TranslateTimeout   time.Duration
	TranslateCacheSize int
	SourceLanguage     string
	SupportedLanguages []string
}

// Load loads configuration from environment variables and flags.
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.JobType = livekit.JobType_JT_ROOM
	cfg.DrainTimeout = 30 * time.Second
	cfg.MaxConcurrentJobs = 8
	cfg.LogLevel = "info"
	cfg.LoadUpdateInterval = 5 * time.Second
	cfg.DeepgramURL = "wss://api.deepgram.com/v1/listen"
	cfg.STTSampleRate = 16000
	cfg.TranslateModel = "gpt-4o-mini"
	cfg.TranslateTimeout = 30 * time.Second
	cfg.TranslateCacheSize = 256
	cfg.SourceLanguage = "english"
	cfg.SupportedLanguages = []string{
		"english", "french", "spanish", "german", "italian",
		"portuguese", "dutch", "japanese", "korean", "chinese",
	}

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.LiveKitURL = getEnv("LIVEKIT_URL", "")
	cfg.LiveKitAPIKey = getEnv("LIVEKIT_API_KEY", "")
	cfg.LiveKitAPISecret = getEnv("LIVEKIT_API_SECRET", "")
	cfg.AgentName = getEnv("LK_AGENT_NAME", "")
	cfg.Namespace = getEnv("LK_NAMESPACE", "")
	cfg.PProfAddr = getEnv("LK_PPROF_ADDR", "")
	cfg.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", "")
	cfg.DeepgramURL = getEnv("DEEPGRAM_URL", cfg.DeepgramURL)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", "")
	cfg.TranslateModel = getEnv("TRANSLATE_MODEL", cfg.TranslateModel)
	cfg.SourceLanguage = getEnv("SOURCE_LANGUAGE", cfg.SourceLanguage)

	if jobTypeStr := getEnv("LK_JOB_TYPE", ""); jobTypeStr != "" {
		switch jobTypeStr {
		case "JT_ROOM":
			cfg.JobType = livekit.JobType_JT_ROOM
		case "JT_PUBLISHER":
			cfg.JobType = livekit.JobType_JT_PUBLISHER
		default:
			return nil, fmt.Errorf("invalid job type: %s (must be JT_ROOM or JT_PUBLISHER)", jobTypeStr)
		}
	}

	if drainTimeoutStr := getEnv("LK_DRAIN_TIMEOUT", ""); drainTimeoutStr != "" {
		if d, err := time.ParseDuration(drainTimeoutStr); err == nil {
			cfg.DrainTimeout = d
		}
	}

	if maxJobsStr := getEnv("LK_MAX_CONCURRENT_JOBS", ""); maxJobsStr != "" {
		if n, err := strconv.Atoi(maxJobsStr); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}

	if logLevel := getEnv("LK_LOG_LEVEL", ""); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if timeoutStr := getEnv("TRANSLATE_TIMEOUT", ""); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.TranslateTimeout = d
		}
	}

	if cacheSizeStr := getEnv("TRANSLATE_CACHE_SIZE", ""); cacheSizeStr != "" {
		if n, err := strconv.Atoi(cacheSizeStr); err == nil && n > 0 {
			cfg.TranslateCacheSize = n
		}
	}

	if rateStr := getEnv("STT_SAMPLE_RATE", ""); rateStr != "" {
		if n, err := strconv.Atoi(rateStr); err == nil && n > 0 {
			cfg.STTSampleRate = n
		}
	}

	if langs := getEnv("SUPPORTED_LANGUAGES", ""); langs != "" {
		cfg.SupportedLanguages = splitLanguages(langs)
	}

	// Override with flags
	flag.StringVar(&cfg.LiveKitURL, "url", cfg.LiveKitURL, "LiveKit server URL")
	flag.StringVar(&cfg.LiveKitAPIKey, "api-key", cfg.LiveKitAPIKey, "LiveKit API key")
	flag.StringVar(&cfg.LiveKitAPISecret, "api-secret", cfg.LiveKitAPISecret, "LiveKit API secret")
	flag.StringVar(&cfg.AgentName, "agent-name", cfg.AgentName, "Agent name")
	flag.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.PProfAddr, "pprof-addr", cfg.PProfAddr, "pprof/health HTTP server address")
	flag.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "Drain timeout")
	flag.IntVar(&cfg.MaxConcurrentJobs, "max-jobs", cfg.MaxConcurrentJobs, "Maximum concurrent jobs")
	flag.StringVar(&cfg.TranslateModel, "translate-model", cfg.TranslateModel, "Chat model used for translation")
	flag.DurationVar(&cfg.TranslateTimeout, "translate-timeout", cfg.TranslateTimeout, "Per-segment translation timeout")
	flag.StringVar(&cfg.SourceLanguage, "source-language", cfg.SourceLanguage, "Language spoken by the host (no translation)")
	flag.Parse()

	// Validate required fields
	if cfg.LiveKitURL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKitAPIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}
	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

// LanguageSupported reports whether the worker knows the given language tag.
func (c *Config) LanguageSupported(language string) bool {
	if language == c.SourceLanguage {
		return true
	}
	for _, l := range c.SupportedLanguages {
		if l == language {
			return true
		}
	}
	return false
}

func splitLanguages(s string) []string {
	parts := strings.Split(s, ",")
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			langs = append(langs, p)
		}
	}
	return langs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
