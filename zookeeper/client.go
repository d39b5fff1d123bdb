package zookeeper

import (
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/samuel/go-zookeeper/zk"
	"github.com/sirupsen/logrus"
)

// StateListener is invoked with the client's new session state whenever it
// changes.
type StateListener func(state ClientState)

// ErrorListener is invoked whenever the underlying ZK session reports an
// error alongside a session event, independent of any state transition.
type ErrorListener func(err error)

// ZKClient is the minimal surface a NodeWatcher needs from a ZK session.
// It is satisfied by *Client and by FakeClient in tests.
type ZKClient interface {
	Close()
	ClientState() ClientState
	RegisterListener(listener StateListener)
	RegisterErrorListener(listener ErrorListener)

	GetW(path string) (data []byte, version int32, events <-chan zk.Event, err error)
	ChildrenW(path string) (children []string, version int32, events <-chan zk.Event, err error)
	ExistsW(path string) (exists bool, version int32, events <-chan zk.Event, err error)
}

// Client owns a single ZK session. It is not safe to share a *Client across
// more than one logical owner: replacing the underlying handle on reset is a
// hand-off, never a concurrent operation.
type Client struct {
	conn    *zk.Conn
	servers []string

	mu            sync.Mutex
	clientState   ClientState
	listeners     []StateListener
	errListeners  []ErrorListener
	closed        bool

	log *logrus.Entry
}

// ConnectOpts carries the opaque ZK tunables from config through to the
// underlying go-zookeeper client.
type ConnectOpts struct {
	SessionTimeout time.Duration
	SpinDelay      time.Duration
	Retries        int
}

// Connect dials the ZK ensemble named by connStr ("host:port,host:port,...").
// It returns as soon as the underlying session is started, without waiting
// for it to connect; session state changes are reported to the registered
// listeners.
func Connect(connStr string, opts ConnectOpts, log *logrus.Entry) (*Client, error) {
	servers := strings.Split(connStr, ",")
	c := &Client{
		servers:     servers,
		clientState: Disconnected,
		log:         log,
	}

	conn, _, err := zk.Connect(
		servers,
		opts.SessionTimeout,
		zk.WithLogger(zookeeperClientLogger(log)),
		zk.WithEventCallback(c.eventCallback()),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to ZK at %q", connStr)
	}
	// This version of go-zookeeper does not expose dial-retry/spin-delay as
	// connect options; SpinDelay/Retries are accepted here for parity with
	// the config surface but are not applied: only SessionTimeout reaches
	// the session, and the NodeWatcher retry loops use backoffFor instead.
	c.conn = conn
	return c, nil
}

func (c *Client) eventCallback() zk.EventCallback {
	return func(e zk.Event) {
		state, recognized := stateFromZK(e.State)
		if recognized {
			c.mu.Lock()
			c.clientState = state
			listeners := append([]StateListener(nil), c.listeners...)
			c.mu.Unlock()
			for _, l := range listeners {
				l(state)
			}
		}
		if e.Err != nil {
			c.log.WithError(e.Err).WithFields(logrus.Fields{
				"zk-event-type":  e.Type,
				"zk-event-state": e.State,
				"zk-path":        e.Path,
			}).Warn("ZK session event carried an error")
			c.mu.Lock()
			errListeners := append([]ErrorListener(nil), c.errListeners...)
			c.mu.Unlock()
			for _, l := range errListeners {
				l(e.Err)
			}
		} else {
			c.log.WithFields(logrus.Fields{
				"zk-event-type":  e.Type,
				"zk-event-state": e.State,
				"zk-path":        e.Path,
			}).Trace("ZK session event")
		}
	}
}

func stateFromZK(s zk.State) (ClientState, bool) {
	switch s {
	case zk.StateHasSession:
		return Connected, true
	case zk.StateConnectedReadOnly:
		return ReadOnly, true
	case zk.StateDisconnected:
		return Disconnected, true
	case zk.StateExpired:
		return Expired, true
	case zk.StateAuthFailed:
		return AuthFailed, true
	default:
		return Disconnected, false
	}
}

// Close tears down the underlying ZK session. It does not clear registered
// listeners; callers that want a diagnostic sink on events after Close
// should register one before calling Close. Any GetW/ChildrenW/ExistsW call
// made after Close returns ErrClosed instead of reaching the conn.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ClientState returns the most recently observed session state.
func (c *Client) ClientState() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientState
}

// RegisterListener adds listener to the notification set and immediately
// invokes it with the current state.
func (c *Client) RegisterListener(listener StateListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	state := c.clientState
	c.mu.Unlock()
	listener(state)
}

// RegisterErrorListener adds listener to the set notified whenever a
// session event carries a non-nil error.
func (c *Client) RegisterErrorListener(listener ErrorListener) {
	c.mu.Lock()
	c.errListeners = append(c.errListeners, listener)
	c.mu.Unlock()
}

func (c *Client) GetW(path string) ([]byte, int32, <-chan zk.Event, error) {
	if c.isClosed() {
		return nil, 0, nil, ErrClosed
	}
	data, stat, events, err := c.conn.GetW(path)
	if err != nil {
		return nil, 0, nil, err
	}
	return data, stat.Version, events, nil
}

func (c *Client) ChildrenW(path string) ([]string, int32, <-chan zk.Event, error) {
	if c.isClosed() {
		return nil, 0, nil, ErrClosed
	}
	children, stat, events, err := c.conn.ChildrenW(path)
	if err != nil {
		return nil, 0, nil, err
	}
	return children, stat.Version, events, nil
}

func (c *Client) ExistsW(path string) (bool, int32, <-chan zk.Event, error) {
	if c.isClosed() {
		return false, 0, nil, ErrClosed
	}
	exists, stat, events, err := c.conn.ExistsW(path)
	if err != nil {
		return false, 0, nil, err
	}
	if !exists || stat == nil {
		return exists, 0, events, nil
	}
	return exists, stat.Version, events, nil
}

// backoffFor builds the retry schedule used for transient ZK read errors,
// floored at the spec's 5s retry (see NodeWatcher), growing with bounded
// jitter-free exponential backoff rather than retrying at a fixed interval
// forever.
func backoffFor() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    5 * time.Minute,
		Factor: 2,
		Jitter: false,
	}
}
