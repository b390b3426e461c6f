// Package config loads runtime configuration from the environment
// (optionally overlaid by a .env file), following the shape of the
// teacher's internal/config/loader.go: a Load() (Config, error) that reads
// os.Getenv after godotenv.Overload(), applies defaults for anything the
// environment left blank, and fails loudly only when a genuinely required
// secret is absent.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is every recognized environment key of spec.md §6 plus the
// additions of SPEC_FULL.md §6.
type Config struct {
	QueueURL    string // KAFKA_BROKERS, comma-separated
	QueueTopic  string
	QueueGroup  string

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	AnthropicAPIKey string
	AnthropicModel  string

	EmbeddingModel    string
	EmbeddingBaseURL  string

	InternalSecret string

	DebounceWindowSeconds   int
	PipelineBudgetSeconds   int
	SchedulerIntervalSeconds int
	FollowupBuckets         string // raw FOLLOWUP_BUCKETS value; not parsed or applied, the due-followups query always uses domain.DefaultFollowupBuckets

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RPCListenAddr string
	RPCBaseURL    string

	IngressListenAddr   string
	IngressWebhookSecret string

	ProviderBaseURL      string
	ProviderWebhookSecret string
	ObserverWebhookURL    string

	EnumAliasesPath string

	OTLPEndpoint string
	Environment  string
	LogLevel     string
	LogFormat    string
}

// Load reads configuration from the environment. Use Overload semantics so a
// local .env deterministically controls behavior in development, matching
// the teacher's Load().
func Load(getenv func(string) string) (Config, error) {
	_ = godotenv.Overload()
	if getenv == nil {
		getenv = osGetenv
	}

	cfg := Config{
		QueueTopic:               "whatsapp.inbound",
		QueueGroup:               "convo-core-consumer",
		DebounceWindowSeconds:    5,
		PipelineBudgetSeconds:    30,
		SchedulerIntervalSeconds: 60,
		RPCListenAddr:            ":8081",
		IngressListenAddr:        ":8080",
		LogLevel:                 "info",
		Environment:              "production",
	}

	cfg.QueueURL = trimmed(getenv, "QUEUE_URL")
	if v := trimmed(getenv, "KAFKA_BROKERS"); v != "" {
		cfg.QueueURL = v
	}
	if v := trimmed(getenv, "KAFKA_TOPIC_INBOUND"); v != "" {
		cfg.QueueTopic = v
	}
	if v := trimmed(getenv, "KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.QueueGroup = v
	}

	cfg.LLMBaseURL = trimmed(getenv, "LLM_BASE_URL")
	cfg.LLMModel = trimmed(getenv, "LLM_MODEL")
	cfg.LLMAPIKey = trimmed(getenv, "LLM_API_KEY")

	cfg.AnthropicAPIKey = trimmed(getenv, "ANTHROPIC_API_KEY")
	cfg.AnthropicModel = trimmed(getenv, "ANTHROPIC_MODEL")

	cfg.EmbeddingModel = trimmed(getenv, "EMBEDDING_MODEL")
	cfg.EmbeddingBaseURL = firstNonEmpty(trimmed(getenv, "EMBEDDING_BASE_URL"), cfg.LLMBaseURL)

	cfg.InternalSecret = trimmed(getenv, "INTERNAL_SECRET")

	if v := trimmed(getenv, "DEBOUNCE_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("DEBOUNCE_WINDOW_SECONDS: %w", err)
		}
		cfg.DebounceWindowSeconds = n
	}
	if v := trimmed(getenv, "PIPELINE_BUDGET_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("PIPELINE_BUDGET_SECONDS: %w", err)
		}
		cfg.PipelineBudgetSeconds = n
	}
	if v := trimmed(getenv, "SCHEDULER_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SCHEDULER_INTERVAL_SECONDS: %w", err)
		}
		cfg.SchedulerIntervalSeconds = n
	}
	cfg.FollowupBuckets = trimmed(getenv, "FOLLOWUP_BUCKETS")

	cfg.DatabaseURL = trimmed(getenv, "DATABASE_URL")

	cfg.RedisAddr = trimmed(getenv, "REDIS_ADDR")
	cfg.RedisPassword = trimmed(getenv, "REDIS_PASSWORD")
	if v := trimmed(getenv, "REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}

	if v := trimmed(getenv, "RPC_LISTEN_ADDR"); v != "" {
		cfg.RPCListenAddr = v
	}
	cfg.RPCBaseURL = trimmed(getenv, "RPC_BASE_URL")

	if v := trimmed(getenv, "INGRESS_LISTEN_ADDR"); v != "" {
		cfg.IngressListenAddr = v
	}
	cfg.IngressWebhookSecret = trimmed(getenv, "INGRESS_WEBHOOK_SECRET")

	cfg.ProviderBaseURL = trimmed(getenv, "PROVIDER_BASE_URL")
	cfg.ProviderWebhookSecret = trimmed(getenv, "PROVIDER_WEBHOOK_SECRET")
	cfg.ObserverWebhookURL = trimmed(getenv, "OBSERVER_WEBHOOK_URL")

	cfg.EnumAliasesPath = trimmed(getenv, "ENUM_ALIASES_PATH")

	cfg.OTLPEndpoint = trimmed(getenv, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if v := trimmed(getenv, "ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := trimmed(getenv, "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.LogFormat = trimmed(getenv, "LOG_FORMAT")

	return cfg, nil
}

// RequireForServer validates the keys the RPC server (direct DB access)
// cannot start without.
func (c Config) RequireForServer() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.InternalSecret == "" {
		missing = append(missing, "INTERNAL_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireForWorker validates the keys the consumer/scheduler process cannot
// start without.
func (c Config) RequireForWorker() error {
	var missing []string
	if c.QueueURL == "" {
		missing = append(missing, "QUEUE_URL")
	}
	if c.InternalSecret == "" {
		missing = append(missing, "INTERNAL_SECRET")
	}
	if c.RPCBaseURL == "" {
		missing = append(missing, "RPC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func trimmed(getenv func(string) string, key string) string { return strings.TrimSpace(getenv(key)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
