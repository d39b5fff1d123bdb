package manatee

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/joyent/manatee-topology/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ResolverState is one of the five PrimaryResolver lifecycle states.
type ResolverState int

const (
	// Stopped is the initial state and the state reachable from Failed.
	Stopped ResolverState = iota
	// Starting is entered on Start and left on the underlying
	// ShardClient's first ready or error event.
	Starting
	// Running is entered once the ShardClient has reported ready.
	Running
	// Failed is entered on any ShardClient error; it restarts on its own
	// after a fixed backoff unless Stop is called first.
	Failed
	// Stopping is entered on Stop from Running and left once the
	// ShardClient reports close.
	Stopping
)

// String implements fmt.Stringer.
func (s ResolverState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case Stopping:
		return "Stopping"
	}
	panic(fmt.Errorf("unknown resolver state: %v", int(s)))
}

// failedRestartDelay is how long the resolver waits in the Failed state
// before automatically restarting.
const failedRestartDelay = 1 * time.Second

// PrimaryRecord describes the current primary of a shard, keyed by an
// opaque identifier assigned when the primary was first observed.
type PrimaryRecord struct {
	Name    string
	Address string
	Port    int
	Key     string
}

// AddedListener is invoked when a new primary is observed.
type AddedListener func(key string, record PrimaryRecord)

// RemovedListener is invoked when a previously observed primary is
// superseded.
type RemovedListener func(key string)

// shardEventSource is the subset of ShardClient's surface PrimaryResolver
// depends on; it exists so tests can substitute a double for the real ZK
// session.
type shardEventSource interface {
	OnReady(ReadyListener)
	OnTopology(TopologyListener)
	OnError(ErrorListener)
	OnClose(CloseListener)
	Start() error
	Close()
}

// PrimaryResolver is a state machine layered on top of ShardClient that
// tracks only the primary and publishes it as opaque-keyed add/remove
// events.
type PrimaryResolver struct {
	log       *logrus.Entry
	newClient func() shardEventSource

	mu        sync.Mutex
	state     ResolverState
	client    shardEventSource
	primary   *PrimaryRecord
	previous  *PrimaryRecord
	lastError error

	addedListeners   []AddedListener
	removedListeners []RemovedListener
}

// NewPrimaryResolver builds a PrimaryResolver that opens a fresh
// ShardClient (per cfg) on each start cycle.
func NewPrimaryResolver(cfg *config.Config, log *logrus.Entry) *PrimaryResolver {
	return &PrimaryResolver{
		log:   log,
		state: Stopped,
		newClient: func() shardEventSource {
			return NewShardClient(cfg, log)
		},
	}
}

// OnAdded registers an AddedListener.
func (pr *PrimaryResolver) OnAdded(listener AddedListener) {
	pr.mu.Lock()
	pr.addedListeners = append(pr.addedListeners, listener)
	pr.mu.Unlock()
}

// OnRemoved registers a RemovedListener.
func (pr *PrimaryResolver) OnRemoved(listener RemovedListener) {
	pr.mu.Lock()
	pr.removedListeners = append(pr.removedListeners, listener)
	pr.mu.Unlock()
}

// State returns the resolver's current state.
func (pr *PrimaryResolver) State() ResolverState {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.state
}

// Count returns 0 or 1, the number of primaries currently tracked.
func (pr *PrimaryResolver) Count() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.primary == nil {
		return 0
	}
	return 1
}

// List returns a map of key to PrimaryRecord, of size 0 or 1.
func (pr *PrimaryResolver) List() map[string]PrimaryRecord {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make(map[string]PrimaryRecord, 1)
	if pr.primary != nil {
		out[pr.primary.Key] = *pr.primary
	}
	return out
}

// LastError returns the last error observed from the underlying
// ShardClient, or nil.
func (pr *PrimaryResolver) LastError() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.lastError
}

// Start requires the resolver be Stopped; it is a programming error
// otherwise.
func (pr *PrimaryResolver) Start() {
	pr.mu.Lock()
	if pr.state != Stopped {
		state := pr.state
		pr.mu.Unlock()
		panic(fmt.Errorf("PrimaryResolver.Start called from state %v, requires Stopped", state))
	}
	pr.state = Starting
	pr.mu.Unlock()

	pr.launchClient()
}

// Stop requires the resolver be Running or Failed; it is a programming
// error otherwise.
func (pr *PrimaryResolver) Stop() {
	pr.mu.Lock()
	switch pr.state {
	case Running:
		pr.state = Stopping
		client := pr.client
		pr.mu.Unlock()
		client.OnClose(pr.handleClosed)
		client.Close()
	case Failed:
		pr.state = Stopped
		pr.client = nil
		pr.mu.Unlock()
	default:
		state := pr.state
		pr.mu.Unlock()
		panic(fmt.Errorf("PrimaryResolver.Stop called from state %v, requires Running or Failed", state))
	}
}

func (pr *PrimaryResolver) launchClient() {
	client := pr.newClient()

	pr.mu.Lock()
	pr.client = client
	pr.mu.Unlock()

	client.OnReady(pr.handleReady)
	client.OnTopology(pr.handleTopology)
	client.OnError(pr.handleError)

	if err := client.Start(); err != nil {
		pr.handleError(err)
	}
}

func (pr *PrimaryResolver) handleReady() {
	pr.mu.Lock()
	if pr.state != Starting {
		pr.mu.Unlock()
		return
	}
	pr.state = Running
	pr.mu.Unlock()
}

func (pr *PrimaryResolver) handleError(err error) {
	pr.mu.Lock()
	if pr.state != Starting && pr.state != Running {
		pr.mu.Unlock()
		return
	}
	pr.state = Failed
	pr.lastError = err
	pr.previous = pr.primary
	pr.primary = nil
	client := pr.client
	pr.mu.Unlock()

	pr.log.WithError(err).Warn("shard client reported an error, resolver entering failed state")

	if client != nil {
		client.Close()
	}
	time.AfterFunc(failedRestartDelay, pr.restartAfterFailure)
}

func (pr *PrimaryResolver) restartAfterFailure() {
	pr.mu.Lock()
	if pr.state != Failed {
		pr.mu.Unlock()
		return
	}
	pr.state = Starting
	pr.mu.Unlock()

	pr.launchClient()
}

func (pr *PrimaryResolver) handleClosed() {
	pr.mu.Lock()
	if pr.state != Stopping {
		pr.mu.Unlock()
		return
	}
	pr.state = Stopped
	pr.client = nil
	pr.mu.Unlock()
}

func (pr *PrimaryResolver) handleTopology(urls Topology) {
	pr.mu.Lock()
	running := pr.state == Running
	pr.mu.Unlock()
	if !running || len(urls) == 0 {
		return
	}

	candidate, err := parsePrimaryCandidate(urls[0])
	if err != nil {
		panic(errors.Wrapf(err, "malformed primary URL %q from shard client", urls[0]))
	}

	pr.mu.Lock()
	if pr.primary != nil &&
		pr.primary.Name == candidate.Name &&
		pr.primary.Address == candidate.Address &&
		pr.primary.Port == candidate.Port {
		pr.mu.Unlock()
		return
	}
	candidate.Key = freshOpaqueKey()
	previous := pr.primary
	pr.previous = previous
	pr.primary = &candidate
	pr.mu.Unlock()

	pr.emitAdded(candidate.Key, candidate)
	if previous != nil {
		pr.emitRemoved(previous.Key)
	}
}

func (pr *PrimaryResolver) emitAdded(key string, record PrimaryRecord) {
	pr.mu.Lock()
	listeners := append([]AddedListener(nil), pr.addedListeners...)
	pr.mu.Unlock()
	for _, l := range listeners {
		l(key, record)
	}
}

func (pr *PrimaryResolver) emitRemoved(key string) {
	pr.mu.Lock()
	listeners := append([]RemovedListener(nil), pr.removedListeners...)
	pr.mu.Unlock()
	for _, l := range listeners {
		l(key)
	}
}

// parsePrimaryCandidate validates urls[0] per the PrimaryResolver contract:
// scheme "tcp", an IPv4/IPv6 literal host (not a DNS name), and an integer
// port.
func parsePrimaryCandidate(raw PeerURL) (PrimaryRecord, error) {
	parsed, err := url.Parse(string(raw))
	if err != nil {
		return PrimaryRecord{}, errors.Wrap(err, "could not parse URL")
	}
	if parsed.Scheme != "tcp" {
		return PrimaryRecord{}, errors.Errorf("unexpected scheme %q, want tcp", parsed.Scheme)
	}
	host := parsed.Hostname()
	if net.ParseIP(host) == nil {
		return PrimaryRecord{}, errors.Errorf("host %q is not an IP literal", host)
	}
	portStr := parsed.Port()
	if portStr == "" {
		return PrimaryRecord{}, errors.New("URL has no port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PrimaryRecord{}, errors.Wrap(err, "could not parse port")
	}
	return PrimaryRecord{Name: "primary", Address: host, Port: port}, nil
}

// freshOpaqueKey returns a new opaque 12-character identifier: 9
// cryptographically random bytes rendered as unpadded base64.
func freshOpaqueKey() string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		panic(errors.Wrap(err, "could not read random bytes for opaque key"))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
