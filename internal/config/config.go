package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dev.helix.ensemble/internal/models"
)

// Config is the full validated configuration tree. A loaded Config is
// immutable; reloads produce a new tree and swap it atomically via Store.
type Config struct {
	Ensemble   EnsembleConfig        `yaml:"ensemble"`
	Tiers      TiersConfig           `yaml:"tiers"`
	Voting     VotingConfig          `yaml:"voting"`
	MetaVoter  MetaVoterConfig       `yaml:"meta_voter"`
	Abstention AbstentionConfig      `yaml:"abstention"`
	Synthesis  SynthesisConfig       `yaml:"synthesis"`
	Routing    RoutingConfig         `yaml:"routing"`
	Redis      RedisConfig           `yaml:"redis"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
	Models     map[string]ModelConfig `yaml:"models"`
}

// EnsembleConfig bounds the fan-out machinery.
type EnsembleConfig struct {
	MaxConcurrentPerTier int           `yaml:"max_concurrent_per_tier"`
	Timeout              time.Duration `yaml:"timeout"`
	RetryAttempts        int           `yaml:"retry_attempts"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	RetryDelayCap        time.Duration `yaml:"retry_delay_cap"`
	MaxPromptLength      int           `yaml:"max_prompt_length"`
}

// TierConfig holds the per-tier limits and ceilings.
type TierConfig struct {
	SharedWordLimit      int           `yaml:"shared_word_limit"`
	MaxTokensPerRole     int           `yaml:"max_tokens_per_role"`
	MaxSynthesisTokens   int           `yaml:"max_synthesis_tokens"`
	MaxCharactersPerRole int           `yaml:"max_characters_per_role"`
	Timeout              time.Duration `yaml:"timeout"`
	RequestsPerHour      int           `yaml:"requests_per_hour"`
	RequestsPerDay       int           `yaml:"requests_per_day"`
	MaxPromptLength      int           `yaml:"max_prompt_length"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	ConcurrencyLimit     int           `yaml:"concurrency_limit"`
	ModelCount           int           `yaml:"model_count"`
	MinQuality           float64       `yaml:"min_quality"`
}

// TiersConfig holds both tier policies.
type TiersConfig struct {
	Free    TierConfig `yaml:"free"`
	Premium TierConfig `yaml:"premium"`
}

// ForTier returns the policy for the given tier.
func (t TiersConfig) ForTier(tier models.Tier) TierConfig {
	if tier == models.TierPremium {
		return t.Premium
	}
	return t.Free
}

// WeightFactors are the multi-factor voting weights. They are normalized to
// sum to 1.0 at load time.
type WeightFactors struct {
	Confidence float64 `yaml:"confidence"`
	Quality    float64 `yaml:"quality"`
	Historical float64 `yaml:"historical"`
	Semantic   float64 `yaml:"semantic"`
	Consensus  float64 `yaml:"consensus"`
	Diversity  float64 `yaml:"diversity"`
}

// Sum returns the total of all factors.
func (w WeightFactors) Sum() float64 {
	return w.Confidence + w.Quality + w.Historical + w.Semantic + w.Consensus + w.Diversity
}

// Normalized returns a copy scaled so the factors sum to 1.0.
func (w WeightFactors) Normalized() WeightFactors {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeightFactors()
	}
	return WeightFactors{
		Confidence: w.Confidence / sum,
		Quality:    w.Quality / sum,
		Historical: w.Historical / sum,
		Semantic:   w.Semantic / sum,
		Consensus:  w.Consensus / sum,
		Diversity:  w.Diversity / sum,
	}
}

// DefaultWeightFactors returns the default factor mix.
func DefaultWeightFactors() WeightFactors {
	return WeightFactors{
		Confidence: 0.25,
		Quality:    0.20,
		Historical: 0.20,
		Semantic:   0.15,
		Consensus:  0.10,
		Diversity:  0.10,
	}
}

// VotingConfig configures the voting engine.
type VotingConfig struct {
	EnableMetaVoter       bool          `yaml:"enable_meta_voter"`
	EnableAdaptiveWeights bool          `yaml:"enable_adaptive_weights"`
	EnableSemanticScoring bool          `yaml:"enable_semantic_scoring"`
	WeightFactors         WeightFactors `yaml:"weight_factors"`
}

// MetaVoterTrigger decides when a near-tie escalates to the meta-voter.
type MetaVoterTrigger struct {
	MaxWeightDifference  float64               `yaml:"max_weight_difference"`
	MinConsensusStrength models.ConsensusGrade `yaml:"min_consensus_strength"`
}

// MetaVoterConfig configures the dedicated tie-breaking model.
type MetaVoterConfig struct {
	Model       string           `yaml:"model"`
	MaxTokens   int              `yaml:"max_tokens"`
	Temperature float64          `yaml:"temperature"`
	Timeout     time.Duration    `yaml:"timeout"`
	Trigger     MetaVoterTrigger `yaml:"trigger"`
}

// AbstentionConfig is parsed and validated for forward compatibility; the
// pipeline implements the meta-voter only.
type AbstentionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ConsensusThreshold  float64 `yaml:"consensus_threshold"`
	RequeryLimit        int     `yaml:"requery_limit"`
}

// SynthesisConfig configures the synthesis engine.
type SynthesisConfig struct {
	Model           string        `yaml:"model"`
	BaseTemperature float64       `yaml:"base_temperature"`
	MinQuality      float64       `yaml:"min_quality"`
	Timeout         time.Duration `yaml:"timeout"`
}

// RoutingConfig configures model selection fallbacks.
type RoutingConfig struct {
	// FallbackModels is the fixed preferred triple used when ranking fails.
	FallbackModels []string `yaml:"fallback_models"`
	// AlternateFamilies maps a provider family to the family tried once when
	// its slot fails (e.g. gemini -> grok).
	AlternateFamilies map[string]string `yaml:"alternate_families"`
	// FailureFallbackModel is the stable single model used by handleFailure.
	FailureFallbackModel string `yaml:"failure_fallback_model"`
}

// RedisConfig configures the session memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// MonitoringConfig configures logging and metrics.
type MonitoringConfig struct {
	LogLevel       string        `yaml:"log_level"`
	MetricsEnabled bool          `yaml:"metrics_enabled"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// ModelConfig describes one (provider, model) pair. Immutable once loaded.
type ModelConfig struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	Family          string        `yaml:"family"`
	WireFormat      string        `yaml:"wire_format"`
	BaseURL         string        `yaml:"base_url"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	InputCostPer1K  float64       `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64       `yaml:"output_cost_per_1k"`
	Embedding       bool          `yaml:"embedding"`
}

// Default returns the built-in configuration tree.
func Default() *Config {
	return &Config{
		Ensemble: EnsembleConfig{
			MaxConcurrentPerTier: 8,
			Timeout:              30 * time.Second,
			RetryAttempts:        2,
			RetryDelay:           time.Second,
			RetryDelayCap:        5 * time.Second,
			MaxPromptLength:      8000,
		},
		Tiers: TiersConfig{
			Free: TierConfig{
				SharedWordLimit:      800,
				MaxTokensPerRole:     512,
				MaxSynthesisTokens:   700,
				MaxCharactersPerRole: 4000,
				Timeout:              12 * time.Second,
				RequestsPerHour:      30,
				RequestsPerDay:       200,
				MaxPromptLength:      2000,
				CacheTTL:             15 * time.Minute,
				ConcurrencyLimit:     4,
				ModelCount:           3,
				MinQuality:           0.5,
			},
			Premium: TierConfig{
				SharedWordLimit:      2000,
				MaxTokensPerRole:     1024,
				MaxSynthesisTokens:   1400,
				MaxCharactersPerRole: 8000,
				Timeout:              25 * time.Second,
				RequestsPerHour:      300,
				RequestsPerDay:       3000,
				MaxPromptLength:      8000,
				CacheTTL:             time.Hour,
				ConcurrencyLimit:     16,
				ModelCount:           4,
				MinQuality:           0.6,
			},
		},
		Voting: VotingConfig{
			EnableMetaVoter:       true,
			EnableAdaptiveWeights: true,
			EnableSemanticScoring: true,
			WeightFactors:         DefaultWeightFactors(),
		},
		MetaVoter: MetaVoterConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   200,
			Temperature: 0.0,
			Timeout:     8 * time.Second,
			Trigger: MetaVoterTrigger{
				MaxWeightDifference:  0.05,
				MinConsensusStrength: models.ConsensusModerate,
			},
		},
		Abstention: AbstentionConfig{
			ConfidenceThreshold: 0.25,
			ConsensusThreshold:  0.20,
			RequeryLimit:        1,
		},
		Synthesis: SynthesisConfig{
			Model:           "gpt-4o-mini",
			BaseTemperature: 0.4,
			MinQuality:      0.6,
			Timeout:         20 * time.Second,
		},
		Routing: RoutingConfig{
			FallbackModels:       []string{"gpt-4o-mini", "claude-3-5-haiku", "gemini-2.0-flash"},
			AlternateFamilies:    map[string]string{"gemini": "grok"},
			FailureFallbackModel: "gpt-4o-mini",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Enabled: false,
		},
		Monitoring: MonitoringConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			MetricsAddr:    ":9090",
			HealthInterval: 30 * time.Second,
		},
		Models: defaultModels(),
	}
}

func defaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"gpt-4o-mini": {
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			Family:          "openai",
			WireFormat:      "openai",
			BaseURL:         "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxTokens:       1024,
			Temperature:     0.7,
			Timeout:         12 * time.Second,
			InputCostPer1K:  0.00015,
			OutputCostPer1K: 0.0006,
		},
		"claude-3-5-haiku": {
			Provider:        "anthropic",
			Model:           "claude-3-5-haiku-latest",
			Family:          "anthropic",
			WireFormat:      "anthropic",
			BaseURL:         "https://api.anthropic.com",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxTokens:       1024,
			Temperature:     0.7,
			Timeout:         12 * time.Second,
			InputCostPer1K:  0.0008,
			OutputCostPer1K: 0.004,
		},
		"gemini-2.0-flash": {
			Provider:        "google",
			Model:           "gemini-2.0-flash",
			Family:          "gemini",
			WireFormat:      "gemini",
			BaseURL:         "https://generativelanguage.googleapis.com",
			APIKeyEnv:       "GEMINI_API_KEY",
			MaxTokens:       1024,
			Temperature:     0.7,
			Timeout:         12 * time.Second,
			InputCostPer1K:  0.0001,
			OutputCostPer1K: 0.0004,
		},
		"grok-3-mini": {
			Provider:        "xai",
			Model:           "grok-3-mini",
			Family:          "grok",
			WireFormat:      "openai",
			BaseURL:         "https://api.x.ai/v1",
			APIKeyEnv:       "XAI_API_KEY",
			MaxTokens:       1024,
			Temperature:     0.7,
			Timeout:         12 * time.Second,
			InputCostPer1K:  0.0003,
			OutputCostPer1K: 0.0005,
		},
		"text-embedding-3-small": {
			Provider:        "openai",
			Model:           "text-embedding-3-small",
			Family:          "openai",
			WireFormat:      "openai-embedding",
			BaseURL:         "https://api.openai.com/v1",
			APIKeyEnv:       "OPENAI_API_KEY",
			Timeout:         8 * time.Second,
			InputCostPer1K:  0.00002,
			OutputCostPer1K: 0,
			Embedding:       true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, then validates and normalizes it. A validation
// failure is fatal for the caller at startup.
func Load(path string, logger *logrus.Logger) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalizeWeights(logger)
	return cfg, nil
}

// applyEnv overrides every recognized option from the environment.
func applyEnv(cfg *Config) {
	cfg.Ensemble.MaxConcurrentPerTier = envInt("ENSEMBLE_MAX_CONCURRENT_PER_TIER", cfg.Ensemble.MaxConcurrentPerTier)
	cfg.Ensemble.Timeout = envDuration("ENSEMBLE_TIMEOUT_MS", cfg.Ensemble.Timeout)
	cfg.Ensemble.RetryAttempts = envInt("ENSEMBLE_RETRY_ATTEMPTS", cfg.Ensemble.RetryAttempts)
	cfg.Ensemble.RetryDelay = envDuration("ENSEMBLE_RETRY_DELAY_MS", cfg.Ensemble.RetryDelay)
	cfg.Ensemble.MaxPromptLength = envInt("ENSEMBLE_MAX_PROMPT_LENGTH", cfg.Ensemble.MaxPromptLength)

	applyTierEnv("FREE", &cfg.Tiers.Free)
	applyTierEnv("PREMIUM", &cfg.Tiers.Premium)

	cfg.Voting.EnableMetaVoter = envBool("VOTING_ENABLE_META_VOTER", cfg.Voting.EnableMetaVoter)
	cfg.Voting.EnableAdaptiveWeights = envBool("VOTING_ENABLE_ADAPTIVE_WEIGHTS", cfg.Voting.EnableAdaptiveWeights)
	cfg.Voting.EnableSemanticScoring = envBool("VOTING_ENABLE_SEMANTIC_SCORING", cfg.Voting.EnableSemanticScoring)
	cfg.Voting.WeightFactors.Confidence = envFloat("VOTING_WEIGHT_CONFIDENCE", cfg.Voting.WeightFactors.Confidence)
	cfg.Voting.WeightFactors.Quality = envFloat("VOTING_WEIGHT_QUALITY", cfg.Voting.WeightFactors.Quality)
	cfg.Voting.WeightFactors.Historical = envFloat("VOTING_WEIGHT_HISTORICAL", cfg.Voting.WeightFactors.Historical)
	cfg.Voting.WeightFactors.Semantic = envFloat("VOTING_WEIGHT_SEMANTIC", cfg.Voting.WeightFactors.Semantic)
	cfg.Voting.WeightFactors.Consensus = envFloat("VOTING_WEIGHT_CONSENSUS", cfg.Voting.WeightFactors.Consensus)
	cfg.Voting.WeightFactors.Diversity = envFloat("VOTING_WEIGHT_DIVERSITY", cfg.Voting.WeightFactors.Diversity)

	cfg.MetaVoter.Model = envString("META_VOTER_MODEL", cfg.MetaVoter.Model)
	cfg.MetaVoter.MaxTokens = envInt("META_VOTER_MAX_TOKENS", cfg.MetaVoter.MaxTokens)
	cfg.MetaVoter.Temperature = envFloat("META_VOTER_TEMPERATURE", cfg.MetaVoter.Temperature)
	cfg.MetaVoter.Timeout = envDuration("META_VOTER_TIMEOUT_MS", cfg.MetaVoter.Timeout)
	cfg.MetaVoter.Trigger.MaxWeightDifference = envFloat("META_VOTER_MAX_WEIGHT_DIFFERENCE", cfg.MetaVoter.Trigger.MaxWeightDifference)
	if v := os.Getenv("META_VOTER_MIN_CONSENSUS"); v != "" {
		cfg.MetaVoter.Trigger.MinConsensusStrength = models.ConsensusGrade(v)
	}

	cfg.Synthesis.Model = envString("SYNTHESIS_MODEL", cfg.Synthesis.Model)
	cfg.Synthesis.BaseTemperature = envFloat("SYNTHESIS_BASE_TEMPERATURE", cfg.Synthesis.BaseTemperature)
	cfg.Synthesis.MinQuality = envFloat("SYNTHESIS_MIN_QUALITY", cfg.Synthesis.MinQuality)
	cfg.Synthesis.Timeout = envDuration("SYNTHESIS_TIMEOUT_MS", cfg.Synthesis.Timeout)

	cfg.Routing.FailureFallbackModel = envString("ROUTING_FAILURE_FALLBACK_MODEL", cfg.Routing.FailureFallbackModel)
	if v := os.Getenv("ROUTING_FALLBACK_MODELS"); v != "" {
		cfg.Routing.FallbackModels = splitList(v)
	}

	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Enabled = envBool("REDIS_ENABLED", cfg.Redis.Enabled)

	cfg.Monitoring.LogLevel = envString("LOG_LEVEL", cfg.Monitoring.LogLevel)
	cfg.Monitoring.MetricsEnabled = envBool("METRICS_ENABLED", cfg.Monitoring.MetricsEnabled)
	cfg.Monitoring.MetricsAddr = envString("METRICS_ADDR", cfg.Monitoring.MetricsAddr)
	cfg.Monitoring.HealthInterval = envDuration("HEALTH_INTERVAL_MS", cfg.Monitoring.HealthInterval)
}

func applyTierEnv(prefix string, tier *TierConfig) {
	tier.MaxTokensPerRole = envInt("TIER_"+prefix+"_MAX_TOKENS_PER_ROLE", tier.MaxTokensPerRole)
	tier.MaxSynthesisTokens = envInt("TIER_"+prefix+"_MAX_SYNTHESIS_TOKENS", tier.MaxSynthesisTokens)
	tier.MaxCharactersPerRole = envInt("TIER_"+prefix+"_MAX_CHARACTERS_PER_ROLE", tier.MaxCharactersPerRole)
	tier.Timeout = envDuration("TIER_"+prefix+"_TIMEOUT_MS", tier.Timeout)
	tier.RequestsPerHour = envInt("TIER_"+prefix+"_REQUESTS_PER_HOUR", tier.RequestsPerHour)
	tier.RequestsPerDay = envInt("TIER_"+prefix+"_REQUESTS_PER_DAY", tier.RequestsPerDay)
	tier.MaxPromptLength = envInt("TIER_"+prefix+"_MAX_PROMPT_LENGTH", tier.MaxPromptLength)
	tier.CacheTTL = envDuration("TIER_"+prefix+"_CACHE_TTL_MS", tier.CacheTTL)
	tier.ConcurrencyLimit = envInt("TIER_"+prefix+"_CONCURRENCY_LIMIT", tier.ConcurrencyLimit)
	tier.ModelCount = envInt("TIER_"+prefix+"_MODEL_COUNT", tier.ModelCount)
	tier.MinQuality = envFloat("TIER_"+prefix+"_MIN_QUALITY", tier.MinQuality)
}

// Validate checks the tree for structural errors. Startup callers must treat
// an error as fatal; reload callers keep the previous snapshot.
func (c *Config) Validate() error {
	if c.Ensemble.MaxConcurrentPerTier <= 0 {
		return fmt.Errorf("config: ensemble.max_concurrent_per_tier must be positive")
	}
	if c.Ensemble.Timeout <= 0 {
		return fmt.Errorf("config: ensemble.timeout must be positive")
	}
	if c.Ensemble.RetryAttempts < 0 {
		return fmt.Errorf("config: ensemble.retry_attempts must not be negative")
	}
	for name, tier := range map[string]TierConfig{"free": c.Tiers.Free, "premium": c.Tiers.Premium} {
		if tier.MaxPromptLength <= 0 {
			return fmt.Errorf("config: tiers.%s.max_prompt_length must be positive", name)
		}
		if tier.ConcurrencyLimit <= 0 {
			return fmt.Errorf("config: tiers.%s.concurrency_limit must be positive", name)
		}
		if tier.ModelCount <= 0 {
			return fmt.Errorf("config: tiers.%s.model_count must be positive", name)
		}
		if tier.MinQuality < 0 || tier.MinQuality > 1 {
			return fmt.Errorf("config: tiers.%s.min_quality must be within [0,1]", name)
		}
	}
	if c.MetaVoter.Trigger.MaxWeightDifference < 0 || c.MetaVoter.Trigger.MaxWeightDifference > 1 {
		return fmt.Errorf("config: meta_voter.trigger.max_weight_difference must be within [0,1]")
	}
	if c.Synthesis.MinQuality < 0 || c.Synthesis.MinQuality > 1 {
		return fmt.Errorf("config: synthesis.min_quality must be within [0,1]")
	}
	if c.Abstention.RequeryLimit < 0 {
		return fmt.Errorf("config: abstention.requery_limit must not be negative")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model must be configured")
	}
	for id, m := range c.Models {
		if m.Provider == "" || m.Model == "" {
			return fmt.Errorf("config: models.%s: provider and model are required", id)
		}
		switch m.WireFormat {
		case "openai", "anthropic", "gemini", "openai-embedding":
		default:
			return fmt.Errorf("config: models.%s: unknown wire_format %q", id, m.WireFormat)
		}
		if !m.Embedding && m.MaxTokens <= 0 {
			return fmt.Errorf("config: models.%s: max_tokens must be positive", id)
		}
	}
	if _, ok := c.Models[c.Routing.FailureFallbackModel]; !ok {
		return fmt.Errorf("config: routing.failure_fallback_model %q is not a configured model", c.Routing.FailureFallbackModel)
	}
	return nil
}

// normalizeWeights rescales the voting weight factors to sum to 1.0, warning
// when the configured values drift.
func (c *Config) normalizeWeights(logger *logrus.Logger) {
	sum := c.Voting.WeightFactors.Sum()
	if math.Abs(sum-1.0) > 1e-3 && logger != nil {
		logger.WithFields(logrus.Fields{
			"configured_sum": sum,
		}).Warn("Voting weight factors do not sum to 1.0, normalizing")
	}
	c.Voting.WeightFactors = c.Voting.WeightFactors.Normalized()
}

// EmbeddingModel returns the first configured embedding model ID, if any.
func (c *Config) EmbeddingModel() (string, bool) {
	for id, m := range c.Models {
		if m.Embedding {
			return id, true
		}
	}
	return "", false
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads a millisecond count from the environment.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
