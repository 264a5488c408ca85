package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-fusion.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	Auth         AuthConfig         `yaml:"auth"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Fusion       FusionConfig       `yaml:"fusion"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_fusion"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// StatementTimeout bounds every store call made by the engine.
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"PGSTATEMENT_TIMEOUT" env-default:"10s"`
}

// RedisConfig holds the optional shared decision cache backend.
// An empty host keeps the decision cache in process memory.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"fusion:decision:"`
}

// LLMConfig configures the reasoning oracle used by the fusion classifier.
type LLMConfig struct {
	// Provider selects the client: "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL  string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model    string        `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout  time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"60s"`
	// MaxRetries applies to transient oracle failures only; retries stay inside Timeout.
	MaxRetries int `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`
	// RequestsPerSecond throttles outbound oracle calls. Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"LLM_REQUESTS_PER_SECOND" env-default:"5"`
	MaxTokens         int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
}

// EmbeddingConfig configures the embedding oracle used for semantic dedup.
type EmbeddingConfig struct {
	// Enabled turns on semantic candidate search. Without it only exact and
	// lexical matching run.
	Enabled           bool          `yaml:"enabled" env:"EMBEDDING_ENABLED" env-default:"true"`
	BaseURL           string        `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model             string        `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey            string        `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimensions        int           `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
	Timeout           time.Duration `yaml:"timeout" env:"EMBEDDING_TIMEOUT" env-default:"15s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"EMBEDDING_REQUESTS_PER_SECOND" env-default:"10"`
}

// FusionConfig holds the decision thresholds and confidence bumps applied
// when a new fact meets an existing one.
type FusionConfig struct {
	// MinConfidence is the oracle confidence below which any action except
	// CONFLICT is escalated to CONFLICT.
	MinConfidence float64 `yaml:"min_confidence" env:"FUSION_MIN_CONFIDENCE" env-default:"0.7"`
	// ConfirmBoost is added to the existing fact confidence on CONFIRM.
	ConfirmBoost float64 `yaml:"confirm_boost" env:"FUSION_CONFIRM_BOOST" env-default:"0.05"`
	// EnrichBoost is added to the existing fact confidence on ENRICH.
	EnrichBoost float64 `yaml:"enrich_boost" env:"FUSION_ENRICH_BOOST" env-default:"0.1"`
	// DefaultConfidence stands in for a fact with no recorded confidence.
	DefaultConfidence float64 `yaml:"default_confidence" env:"FUSION_DEFAULT_CONFIDENCE" env-default:"0.85"`
	// CacheTTL and CacheSize bound the decision cache.
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"FUSION_CACHE_TTL" env-default:"5m"`
	CacheSize int           `yaml:"cache_size" env:"FUSION_CACHE_SIZE" env-default:"100"`
	// ModelHint is passed to the oracle with every fusion decision request.
	ModelHint string `yaml:"model_hint" env:"FUSION_MODEL_HINT" env-default:"fast"`
}

// DedupConfig holds the similarity thresholds used by candidate search.
type DedupConfig struct {
	ExactThreshold          float64 `yaml:"exact_threshold" env:"DEDUP_EXACT_THRESHOLD" env-default:"0.95"`
	TemporalUpdateThreshold float64 `yaml:"temporal_update_threshold" env:"DEDUP_TEMPORAL_UPDATE_THRESHOLD" env-default:"0.3"`
	SemanticMinSimilarity   float64 `yaml:"semantic_min_similarity" env:"DEDUP_SEMANTIC_MIN_SIMILARITY" env-default:"0.5"`
	SemanticLimit           int     `yaml:"semantic_limit" env:"DEDUP_SEMANTIC_LIMIT" env-default:"5"`
	// AutoMergeThreshold lets entity resolution attribute without asking the user.
	AutoMergeThreshold float64 `yaml:"auto_merge_threshold" env:"DEDUP_AUTO_MERGE_THRESHOLD" env-default:"0.8"`
	// TemporalFactTypesStr is a comma-separated list of fact types whose value
	// is expected to change over time.
	TemporalFactTypesStr string `yaml:"temporal_fact_types" env:"DEDUP_TEMPORAL_FACT_TYPES" env-default:"position,company,title,role,location,address,status"`

	TemporalFactTypes []string `yaml:"-"`
}

// ConfirmationConfig holds default expiries per confirmation type and the
// expiry sweep interval.
type ConfirmationConfig struct {
	IdentifierAttributionExpiry time.Duration `yaml:"identifier_attribution_expiry" env:"CONFIRMATION_IDENTIFIER_EXPIRY" env-default:"168h"`
	EntityMergeExpiry           time.Duration `yaml:"entity_merge_expiry" env:"CONFIRMATION_ENTITY_MERGE_EXPIRY" env-default:"720h"`
	FactSubjectExpiry           time.Duration `yaml:"fact_subject_expiry" env:"CONFIRMATION_FACT_SUBJECT_EXPIRY" env-default:"168h"`
	FactValueExpiry             time.Duration `yaml:"fact_value_expiry" env:"CONFIRMATION_FACT_VALUE_EXPIRY" env-default:"168h"`
	ExpireInterval              time.Duration `yaml:"expire_interval" env:"CONFIRMATION_EXPIRE_INTERVAL" env-default:"15m"`
}

// ApprovalConfig holds the pending approval retention settings.
type ApprovalConfig struct {
	// RetentionDays keeps rejected targets soft-deleted for this many days.
	// Zero hard-deletes rejected targets immediately.
	RetentionDays int `yaml:"retention_days" env:"APPROVAL_RETENTION_DAYS" env-default:"30"`
	// MinConfidence is the lowest extraction confidence queued for review.
	MinConfidence float64       `yaml:"min_confidence" env:"APPROVAL_MIN_CONFIDENCE" env-default:"0.7"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"APPROVAL_PURGE_INTERVAL" env-default:"24h"`
}

// NotifyConfig configures where conflict notifications are published.
// No brokers means notifications are stored but not published.
type NotifyConfig struct {
	KafkaBrokersStr string `yaml:"kafka_brokers" env:"NOTIFY_KAFKA_BROKERS" env-default:""`
	KafkaTopic      string `yaml:"kafka_topic" env:"NOTIFY_KAFKA_TOPIC" env-default:"fusion.conflicts"`
	// CallbackBaseURL is embedded in notifications so the recipient can resolve.
	CallbackBaseURL string `yaml:"callback_base_url" env:"NOTIFY_CALLBACK_BASE_URL" env-default:""`

	KafkaBrokers []string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.parseComplexFields()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	if cfg.Notify.CallbackBaseURL == "" {
		cfg.Notify.CallbackBaseURL = cfg.BaseURL
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Dedup.TemporalFactTypes = splitList(c.Dedup.TemporalFactTypesStr)
	c.Notify.KafkaBrokers = splitList(c.Notify.KafkaBrokersStr)
}

// Validate checks value ranges that would otherwise produce silent misbehavior.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"fusion.min_confidence":           c.Fusion.MinConfidence,
		"fusion.default_confidence":       c.Fusion.DefaultConfidence,
		"dedup.exact_threshold":           c.Dedup.ExactThreshold,
		"dedup.temporal_update_threshold": c.Dedup.TemporalUpdateThreshold,
		"dedup.semantic_min_similarity":   c.Dedup.SemanticMinSimilarity,
		"dedup.auto_merge_threshold":      c.Dedup.AutoMergeThreshold,
		"approval.min_confidence":         c.Approval.MinConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if c.Dedup.TemporalUpdateThreshold >= c.Dedup.ExactThreshold {
		return fmt.Errorf("dedup.temporal_update_threshold must be below dedup.exact_threshold")
	}
	if c.Approval.RetentionDays < 0 {
		return fmt.Errorf("approval.retention_days must not be negative")
	}
	if c.Fusion.CacheSize < 0 {
		return fmt.Errorf("fusion.cache_size must not be negative")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	for _, pair := range splitList(value) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the database as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// IsTemporalFactType reports whether values of factType are expected to change over time.
func (c *DedupConfig) IsTemporalFactType(factType string) bool {
	for _, t := range c.TemporalFactTypes {
		if strings.EqualFold(t, factType) {
			return true
		}
	}
	return false
}
