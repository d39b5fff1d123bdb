package manatee

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologyCache_LoadMissingFileReturnsNil(t *testing.T) {
	fs := afero.NewMemMapFs()
	cache := NewTopologyCache(fs, "/var/lib/manatee-topology/shard.json")

	urls, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, urls)
}

func TestTopologyCache_SaveThenLoadRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	cache := NewTopologyCache(fs, "/var/lib/manatee-topology/shard.json")

	want := Topology{"tcp://1.1.1.1:5432", "tcp://2.2.2.2:5432"}
	require.NoError(t, cache.Save(want))

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTopologyCache_SaveOverwritesPreviousContents(t *testing.T) {
	fs := afero.NewMemMapFs()
	cache := NewTopologyCache(fs, "/var/lib/manatee-topology/shard.json")

	require.NoError(t, cache.Save(Topology{"tcp://1.1.1.1:5432"}))
	require.NoError(t, cache.Save(Topology{"tcp://2.2.2.2:5432"}))

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, Topology{"tcp://2.2.2.2:5432"}, got)
}

func TestTopologyCache_LoadCorruptFileIsAnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/var/lib/manatee-topology/shard.json"
	require.NoError(t, afero.WriteFile(fs, path, []byte("not json"), 0644))

	cache := NewTopologyCache(fs, path)
	_, err := cache.Load()
	assert.Error(t, err)
}
