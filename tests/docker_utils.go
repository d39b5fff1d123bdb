// nolint
package tests

import (
	"io"
	"io/ioutil"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// DockerClient returns a docker client configured from the environment
// (DOCKER_HOST, DOCKER_CERT_PATH, ...), negotiating the API version against
// the daemon so the test harness works across docker versions.
func DockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "could not construct docker client")
	}
	return cli, nil
}

// pullDockerImage pulls image, blocking until the pull completes.
func pullDockerImage(cli *client.Client, image string) error {
	rc, err := cli.ImagePull(context.Background(), image, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "could not pull image %q", image)
	}
	defer rc.Close()
	if _, err := io.Copy(ioutil.Discard, rc); err != nil {
		return errors.Wrapf(err, "error reading pull response for image %q", image)
	}
	return nil
}

// removeContainer force-removes the container named by containerID.
func removeContainer(cli *client.Client, containerID string) error {
	err := cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{
		Force: true,
	})
	if err != nil {
		return errors.Wrapf(err, "could not remove container %q", containerID)
	}
	return nil
}
