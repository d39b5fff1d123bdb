package zookeeper

import "github.com/pkg/errors"

var (
	// ErrListenerNotProvided is returned when a watcher is created without
	// a change callback.
	ErrListenerNotProvided = errors.New("a listener callback must be provided to create a node watcher")
	// ErrDisconnected is returned when an operation that requires a live
	// session is attempted while the client is disconnected.
	ErrDisconnected = errors.New("ZK connection is currently disconnected")
	// ErrFailedToReadNode is the message NodeWatcher wraps around a
	// transient data or children read error in the warning it logs before
	// retrying; it is not returned to callers.
	ErrFailedToReadNode = errors.New("failed to read node from ZK")
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("ZK client is closed")
)
