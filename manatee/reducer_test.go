package manatee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterState(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		doc := `{"primary":{"pgUrl":"tcp://1.1.1.1:5432"},"sync":{"pgUrl":"tcp://2.2.2.2:5432"},"async":[{"pgUrl":"tcp://3.3.3.3:5432"}]}`
		cs, err := ParseClusterState([]byte(doc))
		require.NoError(t, err)
		require.NotNil(t, cs.Primary)
		assert.Equal(t, PeerURL("tcp://1.1.1.1:5432"), cs.Primary.PgURL)
		require.NotNil(t, cs.Sync)
		assert.Equal(t, PeerURL("tcp://2.2.2.2:5432"), cs.Sync.PgURL)
		require.Len(t, cs.Async, 1)
		assert.Equal(t, PeerURL("tcp://3.3.3.3:5432"), cs.Async[0].PgURL)
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		doc := `{"primary":{"pgUrl":"tcp://1.1.1.1:5432"},"generation":42,"zoneId":"abc"}`
		cs, err := ParseClusterState([]byte(doc))
		require.NoError(t, err)
		require.NotNil(t, cs.Primary)
		assert.Nil(t, cs.Sync)
		assert.Empty(t, cs.Async)
	})

	t.Run("missing sync and async", func(t *testing.T) {
		doc := `{"primary":{"pgUrl":"tcp://1.1.1.1:5432"}}`
		cs, err := ParseClusterState([]byte(doc))
		require.NoError(t, err)
		assert.Nil(t, cs.Sync)
		assert.Nil(t, cs.Async)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		_, err := ParseClusterState([]byte(`{"primary":`))
		assert.Error(t, err)
	})
}

func TestReduce(t *testing.T) {
	t.Run("cluster state wins over actives", func(t *testing.T) {
		cs := &ClusterState{Primary: &PeerRef{PgURL: "tcp://1.1.1.1:5432"}}
		got := Reduce(cs, []string{"9.9.9.9:5432:12345-0000000000"})
		assert.Equal(t, Topology{"tcp://1.1.1.1:5432"}, got)
	})

	t.Run("falls back to actives when no cluster state", func(t *testing.T) {
		got := Reduce(nil, []string{
			"20.20.20.20:5432:12345-0000000002",
			"19.19.19.19:5432:12345-0000000001",
		})
		assert.Equal(t, Topology{"tcp://19.19.19.19:5432", "tcp://20.20.20.20:5432"}, got)
	})

	t.Run("empty when neither present", func(t *testing.T) {
		got := Reduce(nil, nil)
		assert.Equal(t, Topology{}, got)
	})

	t.Run("empty actives slice yields empty topology", func(t *testing.T) {
		got := Reduce(nil, []string{})
		assert.Equal(t, Topology{}, got)
	})
}

func TestTopologyEqual(t *testing.T) {
	a := Topology{"tcp://1.1.1.1:5432", "tcp://2.2.2.2:5432"}
	b := Topology{"tcp://1.1.1.1:5432", "tcp://2.2.2.2:5432"}
	c := Topology{"tcp://1.1.1.1:5432"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
