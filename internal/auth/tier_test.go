package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dev.helix.ensemble/internal/models"
)

func TestStaticTierStore(t *testing.T) {
	store := NewStaticTierStore(map[string]models.Tier{
		"alice": models.TierPremium,
		"bob":   models.Tier("bogus"),
	})

	assert.Equal(t, models.TierPremium, store.TierFor("alice"))
	assert.Equal(t, models.TierFree, store.TierFor("bob"), "invalid tiers are dropped")
	assert.Equal(t, models.TierFree, store.TierFor("unknown"))

	store.Set("carol", models.TierPremium)
	assert.Equal(t, models.TierPremium, store.TierFor("carol"))

	store.Set("carol", models.Tier("nope"))
	assert.Equal(t, models.TierPremium, store.TierFor("carol"), "invalid updates are ignored")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PREMIUM_USERS", "alice, bob ,")

	store := FromEnv()
	assert.Equal(t, models.TierPremium, store.TierFor("alice"))
	assert.Equal(t, models.TierPremium, store.TierFor("bob"))
	assert.Equal(t, models.TierFree, store.TierFor("carol"))
}

func TestResolve(t *testing.T) {
	store := NewStaticTierStore(map[string]models.Tier{"alice": models.TierPremium})

	assert.Equal(t, models.TierPremium, Resolve(store, &models.Request{UserID: "alice"}))
	assert.Equal(t, models.TierFree, Resolve(store, &models.Request{UserID: "someone"}))
	assert.Equal(t, models.TierFree, Resolve(store, &models.Request{UserID: "alice", Tier: models.TierFree}),
		"an explicit tier on the request wins")
	assert.Equal(t, models.TierFree, Resolve(nil, &models.Request{UserID: "alice"}))
}
