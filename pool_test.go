package keywheel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kw "github.com/keywheel/keywheel"
)

func newTestPool(t *testing.T) *kw.Pool {
	t.Helper()
	pool, err := kw.NewPool(kw.Config{
		Credentials: []kw.CredentialConfig{
			{ID: "gem-1", Provider: "gemini", Tier: "flash", Tags: []string{"free"}, RPMLimit: 10},
			{ID: "gem-2", Provider: "gemini", Tier: "pro", Tags: []string{"free"}},
			{ID: "oai-1", Provider: "openai", Tier: "mini", Tags: []string{"paid"}},
		},
	})
	require.NoError(t, err)
	return pool
}

func TestPool_FilterByTier(t *testing.T) {
	pool := newTestPool(t)

	out := pool.Filter("flash", nil)
	require.Len(t, out, 1)
	assert.Equal(t, "gem-1", out[0].ID)
}

func TestPool_FilterByTag(t *testing.T) {
	pool := newTestPool(t)

	out := pool.Filter("free", nil)
	require.Len(t, out, 2)
	assert.Equal(t, "gem-1", out[0].ID)
	assert.Equal(t, "gem-2", out[1].ID)
}

func TestPool_EmptyPreferenceMatchesAll(t *testing.T) {
	pool := newTestPool(t)
	assert.Len(t, pool.Filter("", nil), 3)
}

func TestPool_Exclude(t *testing.T) {
	pool := newTestPool(t)

	out := pool.Filter("", []string{"gem-1", "oai-1"})
	require.Len(t, out, 1)
	assert.Equal(t, "gem-2", out[0].ID)
}

func TestPool_NoMatch(t *testing.T) {
	pool := newTestPool(t)
	assert.Empty(t, pool.Filter("ultra", nil))
}

func TestPool_Get(t *testing.T) {
	pool := newTestPool(t)

	d, ok := pool.Get("gem-1")
	require.True(t, ok)
	assert.Equal(t, int64(10), d.Limit(kw.ResourceRequests))
	assert.Equal(t, int64(0), d.Limit(kw.ResourceTokens))

	_, ok = pool.Get("missing")
	assert.False(t, ok)
}

func TestPool_RejectsInvalidConfig(t *testing.T) {
	_, err := kw.NewPool(kw.Config{})
	assert.ErrorIs(t, err, kw.ErrNoCredentials)
}
