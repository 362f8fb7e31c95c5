package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/config"
	"trackline/internal/engine"
)

func TestOpenEngineSQLite(t *testing.T) {
	ctx := context.Background()
	e, stores, err := OpenEngine(ctx, t.TempDir(), config.Default(), nil)
	require.NoError(t, err)
	defer stores.Close()
	assert.Equal(t, config.DriverSQLite, stores.Driver)
	assert.NotNil(t, stores.Events)

	_, err = e.CreateInitiative(ctx, engine.InitiativeCreateOptions{ID: "a", Name: "A", Milestone: "Planning"})
	require.NoError(t, err)
	res, err := e.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Initiatives)

	events, err := stores.Events.LatestEvents(ctx, 10, 0, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestOpenEngineMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	_, stores, err := OpenEngine(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer stores.Close()
	assert.Nil(t, stores.Events)
	_, ok := stores.Snapshots.(*engine.MemoryStore)
	assert.True(t, ok)
}

func TestOpenStoresUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"
	_, err := OpenStores(context.Background(), t.TempDir(), cfg)
	assert.Error(t, err)
}
