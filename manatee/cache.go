package manatee

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// TopologyCache persists the most recently published Topology to a file so
// a consumer that starts before the first ZK session is ready has a
// best-effort bootstrap hint. It is a read-only side channel: values read
// from it are never fed back into the reducer, only surfaced to callers
// ahead of the first real topology emission.
type TopologyCache struct {
	fs   afero.Fs
	path string
}

// NewTopologyCache builds a TopologyCache rooted at path on fs.
func NewTopologyCache(fs afero.Fs, path string) *TopologyCache {
	return &TopologyCache{fs: fs, path: path}
}

// Load returns the last persisted Topology, or (nil, nil) if no cache file
// exists yet.
func (c *TopologyCache) Load() (Topology, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not read topology cache at %q", c.path)
	}
	var urls Topology
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, errors.Wrapf(err, "could not parse topology cache at %q", c.path)
	}
	return urls, nil
}

// Save persists urls to the cache file, overwriting any previous contents.
func (c *TopologyCache) Save(urls Topology) error {
	data, err := json.Marshal(urls)
	if err != nil {
		return errors.Wrap(err, "could not marshal topology")
	}
	if err := afero.WriteFile(c.fs, c.path, data, 0644); err != nil {
		return errors.Wrapf(err, "could not write topology cache at %q", c.path)
	}
	return nil
}
