package zookeeper

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/samuel/go-zookeeper/zk"
	"github.com/sirupsen/logrus"
)

// NodeView is a point-in-time snapshot of one ZK node: its data, the data
// version, and (when a children chain is active) its children. All three
// fields are zero/nil when the node does not exist.
type NodeView struct {
	Data     []byte
	Version  *int32
	Children []string
}

// Exists reports whether the node existed as of this view.
func (v NodeView) Exists() bool {
	return v.Version != nil
}

// ChangeListener is invoked for every NodeView change after the initial
// snapshot has been delivered.
type ChangeListener func(NodeView)

// ReadyListener is invoked exactly once with the initial NodeView.
type ReadyListener func(err error, view NodeView)

// NodeWatcher maintains a live view of one ZK node by chaining one-shot
// watches: a data chain (getData, re-armed by the data watch or, while the
// node is absent, by an existence watch) and a children chain (getChildren,
// re-armed by the children watch, restarted whenever the data chain detects
// the node was freshly created).
type NodeWatcher struct {
	client   ZKClient
	path     string
	onChange ChangeListener
	onReady  ReadyListener

	log *logrus.Entry

	mu                sync.Mutex
	closed            bool
	readyFired        bool
	awaitingChildren  bool // node exists and onReady is waiting on the first children read
	dataResolvedOnce  bool
	haveStat          bool // whether the data chain currently believes the node exists
	view              NodeView

	dataBackoff     *backoff.Backoff
	childrenBackoff *backoff.Backoff
}

// Watch begins watching path on client. onReady fires exactly once with the
// initial snapshot; onChange fires for every detected change thereafter
// until Close is called. The watch chains run in the background; Watch
// returns as soon as they are scheduled.
//
// Watch requires both callbacks and a connected client, returning
// ErrListenerNotProvided or ErrDisconnected rather than arming a watcher
// that can never make progress.
func Watch(client ZKClient, path string, onChange ChangeListener, onReady ReadyListener) (*NodeWatcher, error) {
	if onChange == nil || onReady == nil {
		return nil, ErrListenerNotProvided
	}
	if client.ClientState() == Disconnected {
		return nil, ErrDisconnected
	}

	nw := &NodeWatcher{
		client:   client,
		path:     path,
		onChange: onChange,
		onReady:  onReady,
		log: logrus.WithFields(logrus.Fields{
			"package": "zookeeper.node_watcher",
			"zk-node": path,
		}),
		dataBackoff:     backoffFor(),
		childrenBackoff: backoffFor(),
	}
	go nw.getData()
	return nw, nil
}

// Close stops all pending and future watch re-arms. Goroutines already
// scheduled observe the closed flag at entry and return without issuing
// further ZK calls.
func (nw *NodeWatcher) Close() {
	nw.mu.Lock()
	nw.closed = true
	nw.mu.Unlock()
}

func (nw *NodeWatcher) isClosed() bool {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.closed
}

// ---- data chain ----

func (nw *NodeWatcher) getData() {
	if nw.isClosed() {
		return
	}
	data, version, events, err := nw.client.GetW(nw.path)
	switch {
	case err == nil:
		nw.dataBackoff.Reset()
		nw.onDataResolved(data, version)
		go nw.waitDataWatch(events)
	case err == zk.ErrNoNode:
		nw.dataBackoff.Reset()
		nw.onDataAbsent()
		go nw.watchExistence()
	default:
		nw.log.WithError(errors.Wrap(err, ErrFailedToReadNode.Error())).Warn("transient error reading node data, will retry")
		nw.retry(nw.getData, nw.dataBackoff)
	}
}

func (nw *NodeWatcher) waitDataWatch(events <-chan zk.Event) {
	if nw.isClosed() {
		return
	}
	ev, ok := <-events
	if !ok || nw.isClosed() {
		return
	}
	nw.log.WithField("zk-event-type", ev.Type).Trace("data watch fired")
	go nw.getData()
}

// watchExistence is entered when the node was absent on the last getData.
// GetW installs no watch for a node that does not exist, so the absence
// case is covered by an existence watch instead; its firing re-enters the
// data chain.
func (nw *NodeWatcher) watchExistence() {
	if nw.isClosed() {
		return
	}
	exists, version, events, err := nw.client.ExistsW(nw.path)
	if err != nil {
		nw.log.WithError(err).Warn("transient error checking node existence, will retry")
		nw.retry(nw.watchExistence, nw.dataBackoff)
		return
	}
	if exists {
		// Missed-update repair: the node was created between the failed
		// GetW and this existence check. Re-read data now instead of
		// waiting on the existence watch just armed; that watch still
		// fires (harmlessly, and is simply ignored) once the node's data
		// next changes.
		nw.log.WithField("zk-stat-version", version).Debug("node appeared while arming existence watch, re-reading")
		go nw.getData()
		return
	}
	go nw.waitExistenceWatch(events)
}

func (nw *NodeWatcher) waitExistenceWatch(events <-chan zk.Event) {
	if nw.isClosed() {
		return
	}
	ev, ok := <-events
	if !ok || nw.isClosed() {
		return
	}
	nw.log.WithField("zk-event-type", ev.Type).Trace("existence watch fired")
	go nw.getData()
}

func (nw *NodeWatcher) onDataResolved(data []byte, version int32) {
	nw.mu.Lock()
	prevHadStat := nw.haveStat
	isFirst := !nw.dataResolvedOnce
	nw.dataResolvedOnce = true

	v := version
	nw.view.Data = data
	nw.view.Version = &v
	nw.haveStat = true

	// Reseed rule (spec §4.3): the children chain is (re)started whenever
	// the node is newly created, detected by prevStat=null ∧ currStat≠null
	// ∧ currStat.version=0. The very first call is trivially prevStat=null
	// too, and isFirst seeds the children chain at startup for a node that
	// already exists whatever its data version (which is 0 unless its data
	// has been set since it was created).
	restartChildren := isFirst || (!prevHadStat && version == 0)

	awaitingChildren := false
	if restartChildren && !nw.readyFired {
		nw.awaitingChildren = true
		awaitingChildren = true
	}
	view := nw.view
	fireChange := nw.readyFired && !awaitingChildren
	nw.mu.Unlock()

	if restartChildren {
		go nw.getChildren()
	}
	if awaitingChildren {
		return
	}
	if fireChange {
		nw.onChange(view)
	}
}

func (nw *NodeWatcher) onDataAbsent() {
	nw.mu.Lock()
	nw.dataResolvedOnce = true
	nw.haveStat = false
	nw.view = NodeView{}
	first := !nw.readyFired
	if first {
		nw.readyFired = true
	}
	view := nw.view
	nw.mu.Unlock()

	if first {
		nw.onReady(nil, view)
		return
	}
	nw.onChange(view)
}

// ---- children chain ----

func (nw *NodeWatcher) getChildren() {
	if nw.isClosed() {
		return
	}
	children, version, events, err := nw.client.ChildrenW(nw.path)
	switch {
	case err == nil:
		nw.childrenBackoff.Reset()
		nw.onChildrenResolved(children, version)
		go nw.waitChildrenWatch(events)
	case err == zk.ErrNoNode:
		// Children watches do not survive node deletion; silently stop
		// and let the data chain re-seed this chain when the node
		// reappears. If onReady is still pending on this chain's first
		// resolution, it must still fire exactly once.
		nw.mu.Lock()
		first := nw.awaitingChildren && !nw.readyFired
		if first {
			nw.readyFired = true
			nw.awaitingChildren = false
		}
		view := nw.view
		nw.mu.Unlock()
		nw.log.Debug("children chain stopping: node does not exist")
		if first {
			nw.onReady(nil, view)
		}
	default:
		nw.log.WithError(errors.Wrap(err, ErrFailedToReadNode.Error())).Warn("transient error reading node children, will retry")
		nw.retry(nw.getChildren, nw.childrenBackoff)
	}
}

func (nw *NodeWatcher) waitChildrenWatch(events <-chan zk.Event) {
	if nw.isClosed() {
		return
	}
	ev, ok := <-events
	if !ok || nw.isClosed() {
		return
	}
	nw.log.WithField("zk-event-type", ev.Type).Trace("children watch fired")
	go nw.getChildren()
}

func (nw *NodeWatcher) onChildrenResolved(children []string, version int32) {
	nw.mu.Lock()
	nw.view.Children = children
	first := nw.awaitingChildren && !nw.readyFired
	if first {
		nw.readyFired = true
		nw.awaitingChildren = false
	}
	view := nw.view
	nw.mu.Unlock()
	_ = version

	if first {
		nw.onReady(nil, view)
		return
	}
	nw.onChange(view)
}

// retry schedules fn to run again after b's next backoff duration, unless
// the watcher is closed by the time it fires.
func (nw *NodeWatcher) retry(fn func(), b *backoff.Backoff) {
	d := b.Duration()
	time.AfterFunc(d, func() {
		if nw.isClosed() {
			return
		}
		fn()
	})
}
