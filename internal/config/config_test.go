package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Tiers.Free.ModelCount)
	assert.Equal(t, 4, cfg.Tiers.Premium.ModelCount)
	assert.InDelta(t, 1.0, cfg.Voting.WeightFactors.Sum(), 1e-9)
}

func TestWeightFactorsNormalized(t *testing.T) {
	w := WeightFactors{Confidence: 2, Quality: 1, Historical: 1, Semantic: 1, Consensus: 0.5, Diversity: 0.5}
	n := w.Normalized()

	assert.InDelta(t, 1.0, n.Sum(), 1e-9)
	assert.InDelta(t, 2.0/6.0, n.Confidence, 1e-9)

	// Normalizing twice changes nothing.
	again := n.Normalized()
	assert.InDelta(t, n.Confidence, again.Confidence, 1e-12)

	zero := WeightFactors{}.Normalized()
	assert.Equal(t, DefaultWeightFactors(), zero, "all-zero factors fall back to defaults")
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  max_concurrent_per_tier: 4
voting:
  weight_factors:
    confidence: 0.5
    quality: 0.5
    historical: 0.5
    semantic: 0.5
    consensus: 0.5
    diversity: 0.5
synthesis:
  model: claude-3-5-haiku
`), 0o644))

	cfg, err := Load(path, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Ensemble.MaxConcurrentPerTier)
	assert.Equal(t, "claude-3-5-haiku", cfg.Synthesis.Model)
	assert.InDelta(t, 1.0, cfg.Voting.WeightFactors.Sum(), 1e-9, "weights normalized at load")
	assert.InDelta(t, 1.0/6.0, cfg.Voting.WeightFactors.Quality, 1e-9)
}

func TestLoadRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  max_concurrent_per_tier: -1
`), 0o644))

	_, err := Load(path, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_per_tier")
}

func TestValidateUnknownWireFormat(t *testing.T) {
	cfg := Default()
	m := cfg.Models["gpt-4o-mini"]
	m.WireFormat = "soap"
	cfg.Models["gpt-4o-mini"] = m

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire_format")
}

func TestValidateFallbackModelMustExist(t *testing.T) {
	cfg := Default()
	cfg.Routing.FailureFallbackModel = "no-such-model"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_fallback_model")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENSEMBLE_MAX_CONCURRENT_PER_TIER", "12")
	t.Setenv("VOTING_WEIGHT_CONFIDENCE", "0.4")
	t.Setenv("TIER_FREE_MODEL_COUNT", "2")
	t.Setenv("ROUTING_FALLBACK_MODELS", "gpt-4o-mini, claude-3-5-haiku")

	cfg, err := Load("", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Ensemble.MaxConcurrentPerTier)
	assert.Equal(t, 2, cfg.Tiers.Free.ModelCount)
	assert.Equal(t, []string{"gpt-4o-mini", "claude-3-5-haiku"}, cfg.Routing.FallbackModels)
	assert.Greater(t, cfg.Voting.WeightFactors.Confidence, cfg.Voting.WeightFactors.Quality)
}

func TestForTier(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Tiers.Premium, cfg.Tiers.ForTier(models.TierPremium))
	assert.Equal(t, cfg.Tiers.Free, cfg.Tiers.ForTier(models.TierFree))
	assert.Equal(t, cfg.Tiers.Free, cfg.Tiers.ForTier(models.Tier("bogus")))
}

func TestEmbeddingModel(t *testing.T) {
	cfg := Default()
	id, ok := cfg.EmbeddingModel()
	require.True(t, ok)
	assert.Equal(t, "text-embedding-3-small", id)
}

func TestStoreReloadKeepsSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ensemble:\n  max_concurrent_per_tier: 6\n"), 0o644))

	cfg, err := Load(path, logrus.New())
	require.NoError(t, err)
	store := NewStore(cfg, path, logrus.New())
	assert.Equal(t, 6, store.Snapshot().Ensemble.MaxConcurrentPerTier)

	require.NoError(t, os.WriteFile(path, []byte("ensemble:\n  max_concurrent_per_tier: -2\n"), 0o644))
	require.Error(t, store.Reload())
	assert.Equal(t, 6, store.Snapshot().Ensemble.MaxConcurrentPerTier, "previous snapshot survives a bad reload")

	require.NoError(t, os.WriteFile(path, []byte("ensemble:\n  max_concurrent_per_tier: 9\n"), 0o644))
	require.NoError(t, store.Reload())
	assert.Equal(t, 9, store.Snapshot().Ensemble.MaxConcurrentPerTier)
}
