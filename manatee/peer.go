package manatee

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PeerURL is a database peer address of the form "tcp://host[:port]".
type PeerURL string

// ErrMalformedChildName is returned by DecodeChild when a name carries no
// "-" separator, and so cannot carry a trailing sequence number.
var ErrMalformedChildName = errors.New("election child name has no sequence separator")

// DecodeChild parses an election directory child name into a PeerURL.
// Two encodings are recognized:
//
//	"<host>-<seq>"                            -> tcp://<host>
//	"<host>:<pgPort>:<backupPort>:<hbPort>-<seq>" -> tcp://<host>:<pgPort>
//
// Only the portion before the last "-" is decoded; fields after the first
// ":" beyond pgPort are non-PG ports and are ignored.
func DecodeChild(name string) (PeerURL, error) {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return "", errors.Wrapf(ErrMalformedChildName, "name %q", name)
	}
	prefix := name[:i]
	fields := strings.Split(prefix, ":")
	if len(fields) == 1 {
		return PeerURL("tcp://" + fields[0]), nil
	}
	return PeerURL("tcp://" + fields[0] + ":" + fields[1]), nil
}

// sequenceOf returns the integer ZK sequence number encoded after the last
// "-" in name. Non-numeric tails are a programming error in the producer;
// they sort as 0 rather than panicking.
func sequenceOf(name string) int {
	i := strings.LastIndex(name, "-")
	if i < 0 || i == len(name)-1 {
		return 0
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// SortChildren returns a stable ascending copy of children ordered by the
// integer ZK sequence number encoded in each name.
func SortChildren(children []string) []string {
	sorted := make([]string, len(children))
	copy(sorted, children)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sequenceOf(sorted[i]) < sequenceOf(sorted[j])
	})
	return sorted
}
