// +build integration

package zookeeper

import (
	"testing"
	"time"

	"github.com/joyent/manatee-topology/tests"
	"github.com/sirupsen/logrus"
)

// These tests exercise a real ZK session against a throwaway container and
// are gated behind the integration build tag; run with
// `go test -tags=integration ./zookeeper/...`.

func TestClient_ConnectAndGetW(t *testing.T) {
	zkControl, err := tests.StartZookeeper()
	tests.H(t).IsNil(err)
	defer zkControl.TeardownPanic()

	log := logrus.WithField("test", t.Name())
	c, err := Connect(zkControl.Addr(), ConnectOpts{SessionTimeout: 5 * time.Second}, log)
	tests.H(t).IsNil(err)
	defer c.Close()

	connected := waitForState(c, Connected, 5*time.Second)
	tests.H(t).BoolEql(true, connected)

	_, _, _, err = c.GetW("/does-not-exist")
	tests.H(t).NotNil(err)
}

func TestClient_StateListenerFiresOnConnect(t *testing.T) {
	zkControl, err := tests.StartZookeeper()
	tests.H(t).IsNil(err)
	defer zkControl.TeardownPanic()

	log := logrus.WithField("test", t.Name())
	c, err := Connect(zkControl.Addr(), ConnectOpts{SessionTimeout: 5 * time.Second}, log)
	tests.H(t).IsNil(err)
	defer c.Close()

	seen := make(chan ClientState, 8)
	c.RegisterListener(func(s ClientState) {
		seen <- s
	})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-seen:
			if s == Connected {
				return
			}
		case <-deadline:
			t.Fatal("never observed Connected state")
		}
	}
}

func waitForState(c *Client, want ClientState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.ClientState() == want {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return c.ClientState() == want
}
