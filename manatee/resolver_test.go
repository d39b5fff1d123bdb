package manatee

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShard is a shardEventSource double letting resolver tests drive
// ready/topology/error/close transitions directly, without a ZK session.
type fakeShard struct {
	mu                sync.Mutex
	readyListeners    []ReadyListener
	topologyListeners []TopologyListener
	errorListeners    []ErrorListener
	closeListeners    []CloseListener
	closed            bool
}

func (f *fakeShard) OnReady(l ReadyListener)       { f.mu.Lock(); f.readyListeners = append(f.readyListeners, l); f.mu.Unlock() }
func (f *fakeShard) OnTopology(l TopologyListener) { f.mu.Lock(); f.topologyListeners = append(f.topologyListeners, l); f.mu.Unlock() }
func (f *fakeShard) OnError(l ErrorListener)       { f.mu.Lock(); f.errorListeners = append(f.errorListeners, l); f.mu.Unlock() }
func (f *fakeShard) OnClose(l CloseListener)       { f.mu.Lock(); f.closeListeners = append(f.closeListeners, l); f.mu.Unlock() }

func (f *fakeShard) Start() error { return nil }

func (f *fakeShard) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	listeners := append([]CloseListener(nil), f.closeListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (f *fakeShard) fireReady() {
	f.mu.Lock()
	listeners := append([]ReadyListener(nil), f.readyListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (f *fakeShard) fireTopology(t Topology) {
	f.mu.Lock()
	listeners := append([]TopologyListener(nil), f.topologyListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(t)
	}
}

func (f *fakeShard) fireError(err error) {
	f.mu.Lock()
	listeners := append([]ErrorListener(nil), f.errorListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(err)
	}
}

func newTestResolver(factory func() shardEventSource) *PrimaryResolver {
	return &PrimaryResolver{
		log:       logrus.NewEntry(logrus.New()),
		state:     Stopped,
		newClient: factory,
	}
}

// TestPrimaryResolver_ScenarioSix walks the literal PrimaryResolver
// end-to-end scenario: a cluster-state topology establishes a primary, and
// a later topology update assigns a new key and removes the old one only
// after the new key has been added.
func TestPrimaryResolver_ScenarioSix(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })

	var mu sync.Mutex
	var events []string
	pr.OnAdded(func(key string, rec PrimaryRecord) {
		mu.Lock()
		events = append(events, fmt.Sprintf("added:%s:%s:%d", key, rec.Address, rec.Port))
		mu.Unlock()
	})
	pr.OnRemoved(func(key string) {
		mu.Lock()
		events = append(events, fmt.Sprintf("removed:%s", key))
		mu.Unlock()
	})

	pr.Start()
	assert.Equal(t, Starting, pr.State())
	shard.fireReady()
	assert.Equal(t, Running, pr.State())

	shard.fireTopology(Topology{"tcp://1.1.1.1:5432", "tcp://2.2.2.2:5432", "tcp://3.3.3.3:5432"})
	require.Equal(t, 1, pr.Count())
	list1 := pr.List()
	require.Len(t, list1, 1)
	var key1 string
	for k, rec := range list1 {
		key1 = k
		assert.Equal(t, "primary", rec.Name)
		assert.Equal(t, "1.1.1.1", rec.Address)
		assert.Equal(t, 5432, rec.Port)
	}
	assert.Len(t, key1, 12)

	shard.fireTopology(Topology{"tcp://9.9.9.9:5432"})
	require.Equal(t, 1, pr.Count())
	list2 := pr.List()
	require.Len(t, list2, 1)
	var key2 string
	for k, rec := range list2 {
		key2 = k
		assert.Equal(t, "9.9.9.9", rec.Address)
		assert.Equal(t, 5432, rec.Port)
	}
	assert.NotEqual(t, key1, key2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, fmt.Sprintf("added:%s:1.1.1.1:5432", key1), events[0])
	assert.Equal(t, fmt.Sprintf("added:%s:9.9.9.9:5432", key2), events[1])
	assert.Equal(t, fmt.Sprintf("removed:%s", key1), events[2])
}

func TestPrimaryResolver_SamePrimaryIsIgnored(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })

	var addedN int
	pr.OnAdded(func(string, PrimaryRecord) { addedN++ })

	pr.Start()
	shard.fireReady()
	shard.fireTopology(Topology{"tcp://1.1.1.1:5432"})
	shard.fireTopology(Topology{"tcp://1.1.1.1:5432"})

	assert.Equal(t, 1, addedN)
}

func TestPrimaryResolver_EmptyTopologyIsIgnored(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })

	var addedN int
	pr.OnAdded(func(string, PrimaryRecord) { addedN++ })

	pr.Start()
	shard.fireReady()
	shard.fireTopology(Topology{})

	assert.Equal(t, 0, addedN)
	assert.Equal(t, 0, pr.Count())
}

func TestPrimaryResolver_StopFromRunningWaitsForClose(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })

	pr.Start()
	shard.fireReady()
	require.Equal(t, Running, pr.State())

	// fakeShard fires close synchronously inside Close, so observe the
	// resolver's state at the moment the close event is delivered.
	var stateAtClose ResolverState
	shard.OnClose(func() { stateAtClose = pr.State() })

	pr.Stop()
	assert.Equal(t, Stopping, stateAtClose)

	require.Eventually(t, func() bool { return pr.State() == Stopped }, 2*time.Second, 5*time.Millisecond)
}

func TestPrimaryResolver_ErrorEntersFailedThenRestarts(t *testing.T) {
	shards := make(chan *fakeShard, 4)
	pr := newTestResolver(func() shardEventSource {
		s := &fakeShard{}
		shards <- s
		return s
	})

	pr.Start()
	first := <-shards
	first.fireReady()
	require.Equal(t, Running, pr.State())

	first.fireError(fmt.Errorf("boom"))
	assert.Equal(t, Failed, pr.State())
	assert.Error(t, pr.LastError())

	select {
	case second := <-shards:
		second.fireReady()
	case <-time.After(3 * time.Second):
		t.Fatal("resolver never restarted after failure")
	}
	assert.Equal(t, Running, pr.State())
}

func TestPrimaryResolver_StopFromFailedGoesStoppedWithoutRestart(t *testing.T) {
	shards := make(chan *fakeShard, 4)
	pr := newTestResolver(func() shardEventSource {
		s := &fakeShard{}
		shards <- s
		return s
	})

	pr.Start()
	first := <-shards
	first.fireReady()
	first.fireError(fmt.Errorf("boom"))
	require.Equal(t, Failed, pr.State())

	pr.Stop()
	assert.Equal(t, Stopped, pr.State())

	select {
	case <-shards:
		t.Fatal("resolver restarted after Stop from Failed")
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestPrimaryResolver_StartRequiresStopped(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })
	pr.Start()
	assert.Panics(t, func() { pr.Start() })
}

func TestPrimaryResolver_StopRequiresRunningOrFailed(t *testing.T) {
	shard := &fakeShard{}
	pr := newTestResolver(func() shardEventSource { return shard })
	assert.Panics(t, func() { pr.Stop() })
}
