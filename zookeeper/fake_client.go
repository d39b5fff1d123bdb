package zookeeper

import (
	"sync"

	"github.com/samuel/go-zookeeper/zk"
)

// fakeNode is the simulated server-side state of one znode.
type fakeNode struct {
	exists   bool
	data     []byte
	version  int32
	children []string
}

// FakeClient is an in-memory ZKClient double used by unit tests that do not
// need a real ensemble. It tracks registered one-shot watches per path and
// fires them from its Create/Set/Delete/SetChildren control methods, the
// same way a real ZK session would.
type FakeClient struct {
	mu sync.Mutex

	clientState  ClientState
	listeners    []StateListener
	errListeners []ErrorListener

	nodes map[string]*fakeNode

	dataWatchers     map[string][]chan zk.Event
	childrenWatchers map[string][]chan zk.Event
	existsWatchers   map[string][]chan zk.Event

	// *Err, if set, is returned (and cleared) by the next matching call.
	GetWErr      error
	ChildrenWErr error
	ExistsWErr   error
}

// NewFakeClient returns a FakeClient in the Connected state with no nodes.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		clientState:      Connected,
		nodes:            make(map[string]*fakeNode),
		dataWatchers:     make(map[string][]chan zk.Event),
		childrenWatchers: make(map[string][]chan zk.Event),
		existsWatchers:   make(map[string][]chan zk.Event),
	}
}

func (f *FakeClient) node(path string) *fakeNode {
	n, ok := f.nodes[path]
	if !ok {
		n = &fakeNode{}
		f.nodes[path] = n
	}
	return n
}

func (f *FakeClient) Close() {}

func (f *FakeClient) ClientState() ClientState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientState
}

func (f *FakeClient) RegisterListener(listener StateListener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, listener)
	state := f.clientState
	f.mu.Unlock()
	listener(state)
}

// SetClientState simulates a ZK session transition and notifies listeners.
func (f *FakeClient) SetClientState(state ClientState) {
	f.mu.Lock()
	f.clientState = state
	listeners := append([]StateListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(state)
	}
}

// RegisterErrorListener adds listener to the set notified by
// FireSessionError.
func (f *FakeClient) RegisterErrorListener(listener ErrorListener) {
	f.mu.Lock()
	f.errListeners = append(f.errListeners, listener)
	f.mu.Unlock()
}

// FireSessionError simulates a session event carrying a non-nil error,
// independent of any state transition.
func (f *FakeClient) FireSessionError(err error) {
	f.mu.Lock()
	listeners := append([]ErrorListener(nil), f.errListeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(err)
	}
}

func (f *FakeClient) GetW(path string) ([]byte, int32, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetWErr != nil {
		err := f.GetWErr
		f.GetWErr = nil
		return nil, 0, nil, err
	}
	n := f.node(path)
	if !n.exists {
		return nil, 0, nil, zk.ErrNoNode
	}
	ch := make(chan zk.Event, 1)
	f.dataWatchers[path] = append(f.dataWatchers[path], ch)
	return n.data, n.version, ch, nil
}

func (f *FakeClient) ChildrenW(path string) ([]string, int32, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChildrenWErr != nil {
		err := f.ChildrenWErr
		f.ChildrenWErr = nil
		return nil, 0, nil, err
	}
	n := f.node(path)
	if !n.exists {
		return nil, 0, nil, zk.ErrNoNode
	}
	ch := make(chan zk.Event, 1)
	f.childrenWatchers[path] = append(f.childrenWatchers[path], ch)
	children := make([]string, len(n.children))
	copy(children, n.children)
	return children, n.version, ch, nil
}

func (f *FakeClient) ExistsW(path string) (bool, int32, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExistsWErr != nil {
		err := f.ExistsWErr
		f.ExistsWErr = nil
		return false, 0, nil, err
	}
	n := f.node(path)
	ch := make(chan zk.Event, 1)
	f.existsWatchers[path] = append(f.existsWatchers[path], ch)
	return n.exists, n.version, ch, nil
}

// ---- test control surface ----

// CreateNode creates path with the given data at version 0, firing any
// pending existence watch.
func (f *FakeClient) CreateNode(path string, data []byte) {
	f.mu.Lock()
	n := f.node(path)
	n.exists = true
	n.data = data
	n.version = 0
	n.children = nil
	watchers := f.existsWatchers[path]
	delete(f.existsWatchers, path)
	f.mu.Unlock()
	fireAll(watchers, zk.Event{Type: zk.EventNodeCreated, Path: path})
}

// SetData updates path's data, bumping its version and firing any pending
// data and existence watches.
func (f *FakeClient) SetData(path string, data []byte) {
	f.mu.Lock()
	n := f.node(path)
	n.exists = true
	n.data = data
	n.version++
	dataWatchers := f.dataWatchers[path]
	existsWatchers := f.existsWatchers[path]
	delete(f.dataWatchers, path)
	delete(f.existsWatchers, path)
	f.mu.Unlock()
	fireAll(dataWatchers, zk.Event{Type: zk.EventNodeDataChanged, Path: path})
	fireAll(existsWatchers, zk.Event{Type: zk.EventNodeDataChanged, Path: path})
}

// DeleteNode removes path, firing any pending data, children, and
// existence watches.
func (f *FakeClient) DeleteNode(path string) {
	f.mu.Lock()
	n := f.node(path)
	n.exists = false
	n.data = nil
	n.version = 0
	n.children = nil
	dataWatchers := f.dataWatchers[path]
	childrenWatchers := f.childrenWatchers[path]
	existsWatchers := f.existsWatchers[path]
	delete(f.dataWatchers, path)
	delete(f.childrenWatchers, path)
	delete(f.existsWatchers, path)
	f.mu.Unlock()
	fireAll(dataWatchers, zk.Event{Type: zk.EventNodeDeleted, Path: path})
	fireAll(childrenWatchers, zk.Event{Type: zk.EventNodeDeleted, Path: path})
	fireAll(existsWatchers, zk.Event{Type: zk.EventNodeDeleted, Path: path})
}

// SetChildren replaces path's children wholesale, firing any pending
// children watch. It marks the node as existing without firing existence
// watches.
func (f *FakeClient) SetChildren(path string, children []string) {
	f.mu.Lock()
	n := f.node(path)
	n.exists = true
	n.children = children
	childrenWatchers := f.childrenWatchers[path]
	delete(f.childrenWatchers, path)
	f.mu.Unlock()
	fireAll(childrenWatchers, zk.Event{Type: zk.EventNodeChildrenChanged, Path: path})
}

// AddChild appends child to path's children, firing any pending children
// watch.
func (f *FakeClient) AddChild(path, child string) {
	f.mu.Lock()
	n := f.node(path)
	n.exists = true
	n.children = append(append([]string(nil), n.children...), child)
	childrenWatchers := f.childrenWatchers[path]
	delete(f.childrenWatchers, path)
	f.mu.Unlock()
	fireAll(childrenWatchers, zk.Event{Type: zk.EventNodeChildrenChanged, Path: path})
}

// RemoveChild removes the first occurrence of child from path's children,
// firing any pending children watch.
func (f *FakeClient) RemoveChild(path, child string) {
	f.mu.Lock()
	n := f.node(path)
	remaining := make([]string, 0, len(n.children))
	for _, c := range n.children {
		if c != child {
			remaining = append(remaining, c)
		}
	}
	n.children = remaining
	childrenWatchers := f.childrenWatchers[path]
	delete(f.childrenWatchers, path)
	f.mu.Unlock()
	fireAll(childrenWatchers, zk.Event{Type: zk.EventNodeChildrenChanged, Path: path})
}

func fireAll(chans []chan zk.Event, ev zk.Event) {
	for _, ch := range chans {
		ch <- ev
		close(ch)
	}
}
