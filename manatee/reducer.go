package manatee

import (
	"github.com/tidwall/gjson"
)

// PeerRef is a single database reference inside a ClusterState document.
type PeerRef struct {
	PgURL PeerURL
}

// ClusterState is the authoritative replication topology document stored at
// a shard's state path. Fields not recognized here are ignored.
type ClusterState struct {
	Primary *PeerRef
	Sync    *PeerRef
	Async   []PeerRef
}

// ParseClusterState tolerantly extracts the primary/sync/async fields from
// a cluster-state document. Unknown fields are ignored; missing pgUrl
// fields leave the corresponding PeerRef out of the result. It returns
// ErrClusterStateUnparseable when data is not valid JSON, the same
// sentinel ShardClient surfaces to its ErrorListeners.
func ParseClusterState(data []byte) (*ClusterState, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrClusterStateUnparseable
	}
	root := gjson.ParseBytes(data)

	cs := &ClusterState{}
	if primary, ok := peerRefFrom(root.Get("primary")); ok {
		cs.Primary = primary
	}
	if sync, ok := peerRefFrom(root.Get("sync")); ok {
		cs.Sync = sync
	}
	for _, item := range root.Get("async").Array() {
		if ref, ok := peerRefFrom(item); ok {
			cs.Async = append(cs.Async, *ref)
		}
	}
	return cs, nil
}

func peerRefFrom(v gjson.Result) (*PeerRef, bool) {
	url := v.Get("pgUrl")
	if !url.Exists() || url.String() == "" {
		return nil, false
	}
	return &PeerRef{PgURL: PeerURL(url.String())}, true
}

// Topology is the ordered sequence of peer URLs published to consumers:
// primary first, then the sync standby if any, then asyncs in declared
// order.
type Topology []PeerURL

// Equal reports whether t and other are element-wise identical.
func (t Topology) Equal(other Topology) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Reduce combines a ClusterState and the sorted election children into the
// published Topology. clusterState, when non-nil, always wins over
// sortedActives; sortedActives is only consulted when clusterState is nil.
// sortedActives itself being nil (rather than empty) means the election
// path has not yet been read or does not exist.
func Reduce(clusterState *ClusterState, sortedActives []string) Topology {
	if clusterState != nil {
		urls := Topology{}
		if clusterState.Primary != nil {
			urls = append(urls, clusterState.Primary.PgURL)
		}
		if clusterState.Sync != nil {
			urls = append(urls, clusterState.Sync.PgURL)
		}
		for _, a := range clusterState.Async {
			urls = append(urls, a.PgURL)
		}
		return urls
	}
	if sortedActives != nil {
		urls := make(Topology, 0, len(sortedActives))
		for _, child := range sortedActives {
			url, err := DecodeChild(child)
			if err != nil {
				continue
			}
			urls = append(urls, url)
		}
		return urls
	}
	return Topology{}
}
