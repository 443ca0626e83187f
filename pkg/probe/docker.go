package probe

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/log"
)

//go:embed probe.sh
var script string

// API is the subset of the docker engine client used by the probe.
type API interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ExitError is returned when the probe script exits non-zero.
type ExitError struct {
	ExitCode int64
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("probe exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Docker runs the probe script in a throwaway container of the image.
type Docker struct {
	api    API
	logger *log.Logger
}

func NewDocker(api API) *Docker {
	return &Docker{
		api:    api,
		logger: log.WithPrefix("probe"),
	}
}

// NewDockerFromEnv connects to the engine configured by DOCKER_HOST and friends.
func NewDockerFromEnv() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, xerrors.Errorf("docker client error: %w", err)
	}
	return NewDocker(cli), nil
}

func (d *Docker) Probe(ctx context.Context, img string) (Properties, error) {
	eb := oops.With("image", img)
	d.logger.Debug("Probing base image", log.Image(img))

	cfg := &container.Config{
		Image:        img,
		Entrypoint:   strslice.StrSlice{"/bin/sh", "-c"},
		Cmd:          strslice.StrSlice{script},
		User:         "root",
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{NetworkMode: "none"}

	created, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if client.IsErrNotFound(err) {
		if err = d.pull(ctx, img); err != nil {
			return nil, eb.Wrapf(err, "image pull error")
		}
		created, err = d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return nil, eb.Wrapf(err, "container create error")
	}
	for _, w := range created.Warnings {
		d.logger.Warn(w, log.Image(img))
	}
	defer func() {
		if err := d.api.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("Failed to remove probe container", log.String("id", created.ID), log.Err(err))
		}
	}()

	if err = d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, eb.Wrapf(err, "container start error")
	}

	var waitResp container.WaitResponse
	waitCh, errCh := d.api.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err = <-errCh:
		if err != nil {
			return nil, eb.Wrapf(err, "container wait error")
		}
	case waitResp = <-waitCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logs, err := d.api.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, eb.Wrapf(err, "container logs error")
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err = stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, eb.Wrapf(err, "container logs error")
	}
	if waitResp.StatusCode != 0 {
		return nil, eb.Wrap(&ExitError{ExitCode: waitResp.StatusCode, Stderr: stderr.String()})
	}

	props, err := Parse(&stdout)
	if err != nil {
		return nil, eb.Wrap(err)
	}
	d.logger.Debug("Base image properties", log.Image(img), log.Any("keys", props.Keys()))
	return props, nil
}

func (d *Docker) pull(ctx context.Context, img string) error {
	d.logger.Info("Pulling base image", log.Image(img))
	rc, err := d.api.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}
