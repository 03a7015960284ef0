package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the kbforge server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Vector     VectorConfig
	AI         AIConfig
	DeepMemory DeepMemoryConfig
	Transcript TranscriptConfig
	Scrape     ScrapeConfig
	Jobs       JobsConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	LogLevel          string
	RequestsPerMinute int
	BootstrapAPIKey   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectWait bounds how long startup keeps retrying the first ping.
	ConnectWait time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig points at the S3-compatible bucket holding transcript artifacts.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type VectorConfig struct {
	QdrantURL        string
	QdrantAPIKey     string
	CollectionPrefix string
	ChunkSize        int
	ChunkOverlap     int
	ScoreThreshold   float64
	EmbeddingModel   string
	EmbeddingURL     string
	EmbeddingAPIKey  string
	Timeout          time.Duration
	SearchCacheTTL   time.Duration
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type DeepMemoryConfig struct {
	ServiceURL        string
	Token             string
	Timeout           time.Duration
	MaxPairs          int
	QuestionsPerChunk int
	GenerationDelay   time.Duration
	PollBase          time.Duration
	PollMax           time.Duration
	PollDeadline      time.Duration
}

type TranscriptConfig struct {
	ServiceURL string
	Language   string
	Delay      time.Duration
	Timeout    time.Duration
}

type ScrapeConfig struct {
	Concurrency     int
	PageDelay       time.Duration
	Timeout         time.Duration
	MaxContentBytes int
	UserAgent       string
	// AllowPrivate lifts the public-address check for local development.
	AllowPrivate bool
}

type JobsConfig struct {
	Keepalive     time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	MirrorTTL     time.Duration
}

var validProviders = map[string]bool{
	"ollama": true,
	"openai": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("KBFORGE_PORT", 8080),
			Env:               envString("KBFORGE_ENV", "development"),
			LogLevel:          envString("LOG_LEVEL", "info"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			BootstrapAPIKey:   os.Getenv("BOOTSTRAP_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectWait:     envDuration("DATABASE_CONNECT_WAIT", 15*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    envString("MINIO_BUCKET", "kbforge"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Vector: VectorConfig{
			QdrantURL:        os.Getenv("QDRANT_URL"),
			QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
			CollectionPrefix: envString("QDRANT_COLLECTION_PREFIX", "kb_"),
			ChunkSize:        envInt("CHUNK_SIZE", 1000),
			ChunkOverlap:     envInt("CHUNK_OVERLAP", 200),
			ScoreThreshold:   envFloat("VECTOR_SCORE_THRESHOLD", 0.3),
			EmbeddingModel:   envString("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingURL:     envString("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			EmbeddingAPIKey:  os.Getenv("OPENAI_API_KEY"),
			Timeout:          envDuration("VECTOR_TIMEOUT", 30*time.Second),
			SearchCacheTTL:   envDuration("SEARCH_CACHE_TTL", 2*time.Minute),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "openai"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
			},
		},
		DeepMemory: DeepMemoryConfig{
			ServiceURL:        os.Getenv("DEEP_MEMORY_URL"),
			Token:             os.Getenv("DEEP_MEMORY_TOKEN"),
			Timeout:           envDuration("DEEP_MEMORY_TIMEOUT", 60*time.Second),
			MaxPairs:          envInt("DEEP_MEMORY_MAX_PAIRS", 5000),
			QuestionsPerChunk: envInt("DEEP_MEMORY_QUESTIONS_PER_CHUNK", 4),
			GenerationDelay:   envDuration("DEEP_MEMORY_GENERATION_DELAY", time.Second),
			PollBase:          envDuration("DEEP_MEMORY_POLL_BASE", 5*time.Second),
			PollMax:           envDuration("DEEP_MEMORY_POLL_MAX", 60*time.Second),
			PollDeadline:      envDuration("DEEP_MEMORY_POLL_DEADLINE", 2*time.Hour),
		},
		Transcript: TranscriptConfig{
			ServiceURL: os.Getenv("TRANSCRIPT_SERVICE_URL"),
			Language:   envString("TRANSCRIPT_LANGUAGE", "en"),
			Delay:      envDuration("TRANSCRIPT_DELAY", 2*time.Second),
			Timeout:    envDuration("TRANSCRIPT_TIMEOUT", 60*time.Second),
		},
		Scrape: ScrapeConfig{
			Concurrency:     envInt("SCRAPE_CONCURRENCY", 3),
			PageDelay:       envDuration("SCRAPE_PAGE_DELAY", 500*time.Millisecond),
			Timeout:         envDuration("SCRAPE_TIMEOUT", 30*time.Second),
			MaxContentBytes: envInt("SCRAPE_MAX_CONTENT_BYTES", 2<<20),
			UserAgent:       envString("SCRAPE_USER_AGENT", "kbforge-docs-scraper/1.0"),
			AllowPrivate:    envBool("SCRAPE_ALLOW_PRIVATE_NETWORKS", false),
		},
		Jobs: JobsConfig{
			Keepalive:     envDuration("JOB_KEEPALIVE", 30*time.Second),
			Retention:     envDuration("JOB_RETENTION", 30*time.Minute),
			SweepInterval: envDuration("JOB_SWEEP_INTERVAL", time.Minute),
			MirrorTTL:     envDuration("JOB_MIRROR_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("MINIO_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}

	for name, u := range map[string]string{
		"QDRANT_URL":             c.Vector.QdrantURL,
		"DEEP_MEMORY_URL":        c.DeepMemory.ServiceURL,
		"TRANSCRIPT_SERVICE_URL": c.Transcript.ServiceURL,
	} {
		if u == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if c.Vector.EmbeddingAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for embeddings")
	}
	if c.Vector.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Vector.ChunkSize)
	}
	if c.Vector.ChunkOverlap < 0 || c.Vector.ChunkOverlap >= c.Vector.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.Vector.ChunkOverlap)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, openai; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}

	if c.Scrape.Concurrency < 1 {
		return fmt.Errorf("SCRAPE_CONCURRENCY must be at least 1, got %d", c.Scrape.Concurrency)
	}
	if c.DeepMemory.MaxPairs < 1 || c.DeepMemory.QuestionsPerChunk < 1 {
		return fmt.Errorf("DEEP_MEMORY_MAX_PAIRS and DEEP_MEMORY_QUESTIONS_PER_CHUNK must be positive")
	}
	if c.DeepMemory.PollBase <= 0 || c.DeepMemory.PollMax < c.DeepMemory.PollBase {
		return fmt.Errorf("DEEP_MEMORY_POLL_MAX must be at least DEEP_MEMORY_POLL_BASE")
	}
	if c.Jobs.Keepalive <= 0 || c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("JOB_KEEPALIVE and JOB_SWEEP_INTERVAL must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
