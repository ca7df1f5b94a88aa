package gras

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityListKeepsStaleOnRefreshFailure(t *testing.T) {
	env := newTestEnv(t)

	list, err := env.server.entityList.Get()
	require.NoError(t, err)
	require.Equal(t, string(env.entityListJWS), list)
	require.Equal(t, 1, env.listHits)

	// upstream gone, the cached list keeps being served once it expires
	env.master.Close()
	env.server.entityList.expiresAt = env.server.entityList.expiresAt.AddDate(0, 0, -1)

	list, err = env.server.entityList.Get()
	require.NoError(t, err)
	assert.Equal(t, string(env.entityListJWS), list)
}

func TestEntityListErrorsWhenNeverFetched(t *testing.T) {
	env := newTestEnv(t)
	env.master.Close()

	_, err := env.server.entityList.Get()
	require.Error(t, err)
}
