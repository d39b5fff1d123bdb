package zookeeper

import "fmt"

// ClientState is the session-level state of a Client, derived from the
// underlying zk.Conn's event stream.
type ClientState int

const (
	// Disconnected means the client does not currently hold a valid
	// session. This may be because the session has not yet been
	// established, the server is unreachable, or similar conditions.
	Disconnected ClientState = iota

	// Connected means the client currently holds a valid session.
	Connected

	// ReadOnly means the client holds a session against a server that is
	// partitioned from the ZK quorum and is serving stale reads only.
	ReadOnly

	// Expired means the prior session was lost by the ensemble; all
	// ephemeral nodes owned by it are gone and watches must be rebuilt
	// from scratch against a new session.
	Expired

	// AuthFailed means the configured ZK authentication credentials were
	// rejected. The client does not attempt automatic recovery from this
	// state; the session will eventually disconnect or expire.
	AuthFailed
)

// String implements fmt.Stringer.
func (c ClientState) String() string {
	switch c {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case ReadOnly:
		return "ReadOnly"
	case Expired:
		return "Expired"
	case AuthFailed:
		return "AuthFailed"
	}
	panic(fmt.Errorf("unknown client state: %v", int(c)))
}
