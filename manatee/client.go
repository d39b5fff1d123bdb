package manatee

import (
	"sync"

	"github.com/joyent/manatee-topology/config"
	"github.com/joyent/manatee-topology/zookeeper"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ReadyListener is invoked exactly once per ShardClient lifetime, after the
// first successful session setup.
type ReadyListener func()

// TopologyListener is invoked for every debounced topology change.
type TopologyListener func(Topology)

// ErrorListener is invoked on an unrecoverable error. The ShardClient
// instance should be discarded and replaced after this fires.
type ErrorListener func(err error)

// CloseListener is invoked exactly once, after Close has torn down the
// session.
type CloseListener func()

// ErrClusterStateUnparseable is the error surfaced to ErrorListeners when
// the cluster-state document cannot be parsed as JSON.
var ErrClusterStateUnparseable = errors.New("cluster state document is not valid JSON")

type connector func(connStr string, opts zookeeper.ConnectOpts, log *logrus.Entry) (zookeeper.ZKClient, error)

func defaultConnector(connStr string, opts zookeeper.ConnectOpts, log *logrus.Entry) (zookeeper.ZKClient, error) {
	return zookeeper.Connect(connStr, opts, log)
}

// ShardClient owns a single ZK session for one Manatee shard, arms a
// NodeWatcher on the state path and one on the election path, reconciles
// their output through the topology reducer, and publishes the result to
// registered listeners.
type ShardClient struct {
	cfg     *config.Config
	log     *logrus.Entry
	connect connector
	cache   *TopologyCache

	mu              sync.Mutex
	zk              zookeeper.ZKClient
	stateWatcher    *zookeeper.NodeWatcher
	electionWatcher *zookeeper.NodeWatcher

	setWatchesDone bool
	resetting      bool
	stateReady     bool
	electionReady  bool
	inited         bool
	closed         bool

	clusterState *ClusterState
	actives      []string // raw (unsorted) children of the election path; nil until first read
	urls         Topology

	readyListeners    []ReadyListener
	topologyListeners []TopologyListener
	errorListeners    []ErrorListener
	closeListeners    []CloseListener
}

// NewShardClient builds a ShardClient for the shard described by cfg. Call
// Start to open the ZK session.
func NewShardClient(cfg *config.Config, log *logrus.Entry) *ShardClient {
	sc := &ShardClient{
		cfg:     cfg,
		log:     log,
		connect: defaultConnector,
		urls:    Topology{},
	}
	if cfg.TopologyCachePath != "" {
		sc.cache = NewTopologyCache(afero.NewOsFs(), cfg.TopologyCachePath)
	}
	return sc
}

// OnReady registers a ReadyListener.
func (sc *ShardClient) OnReady(listener ReadyListener) {
	sc.mu.Lock()
	sc.readyListeners = append(sc.readyListeners, listener)
	sc.mu.Unlock()
}

// OnTopology registers a TopologyListener.
func (sc *ShardClient) OnTopology(listener TopologyListener) {
	sc.mu.Lock()
	sc.topologyListeners = append(sc.topologyListeners, listener)
	sc.mu.Unlock()
}

// OnError registers an ErrorListener.
func (sc *ShardClient) OnError(listener ErrorListener) {
	sc.mu.Lock()
	sc.errorListeners = append(sc.errorListeners, listener)
	sc.mu.Unlock()
}

// OnClose registers a CloseListener.
func (sc *ShardClient) OnClose(listener CloseListener) {
	sc.mu.Lock()
	sc.closeListeners = append(sc.closeListeners, listener)
	sc.mu.Unlock()
}

// Start dials the ZK ensemble and begins the session-setup procedure.
// Readiness is reported asynchronously through the ready listeners.
func (sc *ShardClient) Start() error {
	return sc.openSession()
}

func (sc *ShardClient) openSession() error {
	opts := zookeeper.ConnectOpts{
		SessionTimeout: sc.cfg.ZKSessionTimeout,
		SpinDelay:      sc.cfg.ZKSpinDelay,
		Retries:        sc.cfg.ZKRetries,
	}
	client, err := sc.connect(sc.cfg.ZKConnStr, opts, sc.log)
	if err != nil {
		sc.mu.Lock()
		sc.resetting = false
		sc.mu.Unlock()
		return errors.Wrap(err, "could not open ZK session")
	}

	sc.mu.Lock()
	sc.zk = client
	sc.setWatchesDone = false
	sc.stateReady = false
	sc.electionReady = false
	sc.resetting = false
	sc.mu.Unlock()

	client.RegisterListener(sc.handleStateChange)
	client.RegisterErrorListener(sc.handleSessionError)
	return nil
}

func (sc *ShardClient) handleStateChange(state zookeeper.ClientState) {
	if sc.isClosed() {
		return
	}
	switch state {
	case zookeeper.Connected, zookeeper.ReadOnly:
		sc.setWatches()
	case zookeeper.Expired:
		sc.resetZkClient()
	case zookeeper.AuthFailed:
		sc.log.Warn("ZK authentication failed; session will disconnect or expire on its own")
	case zookeeper.Disconnected:
		// No action: the handle will recover or expire.
	}
}

func (sc *ShardClient) handleSessionError(err error) {
	if sc.isClosed() {
		return
	}
	sc.log.WithError(err).Warn("ZK session reported an error, rebuilding session")
	sc.resetZkClient()
}

func (sc *ShardClient) isClosed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.closed
}

// setWatches arms the state and election watchers exactly once per
// session (idempotent guard). Either arm can be refused by Watch (e.g. with
// ErrDisconnected when the session drops between the state transition and
// this call); on refusal the session is rebuilt rather than left with a
// dangling watch. Failed reads after a watcher is armed are retried by the
// watcher itself.
func (sc *ShardClient) setWatches() {
	sc.mu.Lock()
	if sc.setWatchesDone || sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.setWatchesDone = true
	client := sc.zk
	sc.mu.Unlock()

	stateWatcher, err := zookeeper.Watch(client, sc.cfg.StatePath(), sc.onStateChange, sc.onStateReady)
	if err != nil {
		sc.log.WithError(err).Warn("could not arm state watcher, rebuilding session")
		sc.resetZkClient()
		return
	}
	electionWatcher, err := zookeeper.Watch(client, sc.cfg.ElectionPath(), sc.onElectionChange, sc.onElectionReady)
	if err != nil {
		sc.log.WithError(err).Warn("could not arm election watcher, rebuilding session")
		stateWatcher.Close()
		sc.resetZkClient()
		return
	}

	sc.mu.Lock()
	sc.stateWatcher = stateWatcher
	sc.electionWatcher = electionWatcher
	sc.mu.Unlock()
}

func (sc *ShardClient) onStateReady(err error, view zookeeper.NodeView) {
	sc.handleClusterState(view)
	sc.watcherResolved(&sc.stateReady)
}

func (sc *ShardClient) onStateChange(view zookeeper.NodeView) {
	sc.handleClusterState(view)
}

func (sc *ShardClient) onElectionReady(err error, view zookeeper.NodeView) {
	sc.handleActive(view)
	sc.watcherResolved(&sc.electionReady)
}

func (sc *ShardClient) onElectionChange(view zookeeper.NodeView) {
	sc.handleActive(view)
}

// watcherResolved records that one of the two initial watch reads has
// completed. When both have, it latches inited and schedules a single
// ready emission followed by a single topology emission, in that order.
func (sc *ShardClient) watcherResolved(flag *bool) {
	sc.mu.Lock()
	*flag = true
	bothReady := sc.stateReady && sc.electionReady
	firstInit := bothReady && !sc.inited
	if firstInit {
		sc.inited = true
	}
	urls := sc.urls
	sc.mu.Unlock()

	if firstInit {
		sc.emitReady()
		sc.emitTopology(urls)
	}
}

// handleClusterState processes a NodeView from the state-path watcher,
// whether delivered as the initial snapshot or a subsequent change.
func (sc *ShardClient) handleClusterState(view zookeeper.NodeView) {
	if !view.Exists() {
		sc.mu.Lock()
		inited := sc.inited
		if !inited {
			sc.mu.Unlock()
			return
		}
		sc.clusterState = nil
		actives := sc.actives
		sc.mu.Unlock()
		if actives != nil {
			sc.recomputeAndMaybeEmit()
		}
		return
	}

	cs, err := ParseClusterState(view.Data)
	if err != nil {
		sc.emitError(err)
		return
	}

	sc.mu.Lock()
	sc.clusterState = cs
	sc.mu.Unlock()
	sc.recomputeAndMaybeEmit()
}

// handleActive processes a NodeView from the election-path watcher.
func (sc *ShardClient) handleActive(view zookeeper.NodeView) {
	if view.Children == nil {
		sc.mu.Lock()
		sc.actives = nil
		sc.mu.Unlock()
		return
	}

	sc.mu.Lock()
	sc.actives = view.Children
	stateWins := sc.clusterState != nil
	sc.mu.Unlock()

	if stateWins {
		return
	}
	sc.recomputeAndMaybeEmit()
}

// recomputeAndMaybeEmit reduces the current clusterState/actives into a
// Topology and emits it if it differs from the last emission and the
// client has completed initial setup.
func (sc *ShardClient) recomputeAndMaybeEmit() {
	sc.mu.Lock()
	cs := sc.clusterState
	var sortedActives []string
	if sc.actives != nil {
		sortedActives = SortChildren(sc.actives)
	}
	newURLs := Reduce(cs, sortedActives)
	changed := !newURLs.Equal(sc.urls)
	if changed {
		sc.urls = newURLs
	}
	shouldEmit := changed && sc.inited
	urls := sc.urls
	sc.mu.Unlock()

	if shouldEmit {
		sc.emitTopology(urls)
	}
}

// resetZkClient tears down the current session and rebuilds it, guarded to
// run at most once per session transition. inited is left set: the ready
// event is sticky across sessions.
func (sc *ShardClient) resetZkClient() {
	sc.mu.Lock()
	if sc.resetting || sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.resetting = true
	oldClient := sc.zk
	stateWatcher := sc.stateWatcher
	electionWatcher := sc.electionWatcher
	sc.mu.Unlock()

	if stateWatcher != nil {
		stateWatcher.Close()
	}
	if electionWatcher != nil {
		electionWatcher.Close()
	}
	if oldClient != nil {
		oldClient.Close()
	}

	if err := sc.openSession(); err != nil {
		sc.log.WithError(err).Error("failed to rebuild ZK session after reset")
	}
}

// Close detaches the watchers, closes the ZK session, and emits close
// exactly once.
func (sc *ShardClient) Close() {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.closed = true
	client := sc.zk
	stateWatcher := sc.stateWatcher
	electionWatcher := sc.electionWatcher
	sc.mu.Unlock()

	if stateWatcher != nil {
		stateWatcher.Close()
	}
	if electionWatcher != nil {
		electionWatcher.Close()
	}
	if client != nil {
		client.Close()
	}
	sc.emitClose()
}

func (sc *ShardClient) emitReady() {
	sc.mu.Lock()
	listeners := append([]ReadyListener(nil), sc.readyListeners...)
	sc.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (sc *ShardClient) emitTopology(urls Topology) {
	sc.mu.Lock()
	listeners := append([]TopologyListener(nil), sc.topologyListeners...)
	cache := sc.cache
	sc.mu.Unlock()
	for _, l := range listeners {
		l(urls)
	}
	if cache != nil {
		if err := cache.Save(urls); err != nil {
			sc.log.WithError(err).Warn("could not persist topology cache")
		}
	}
}

func (sc *ShardClient) emitError(err error) {
	sc.mu.Lock()
	listeners := append([]ErrorListener(nil), sc.errorListeners...)
	sc.mu.Unlock()
	for _, l := range listeners {
		l(err)
	}
}

func (sc *ShardClient) emitClose() {
	sc.mu.Lock()
	listeners := append([]CloseListener(nil), sc.closeListeners...)
	sc.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}
