package probe_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/probe"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  probe.Properties
	}{
		{
			name:  "happy path",
			input: "JAVA_HOME=/usr/java/jdk\nPACKAGE_MANAGER=YUM\n",
			want:  probe.Properties{"JAVA_HOME": "/usr/java/jdk", "PACKAGE_MANAGER": "YUM"},
		},
		{
			name:  "quotes comments and blanks",
			input: "# facts\n\nORACLE_HOME=\"/u01/oracle\"\n  WLS_VERSION = '12.2.1.3.0' \n",
			want:  probe.Properties{"ORACLE_HOME": "/u01/oracle", "WLS_VERSION": "12.2.1.3.0"},
		},
		{
			name:  "value with equals sign",
			input: "OPTS=-Da=b\n",
			want:  probe.Properties{"OPTS": "-Da=b"},
		},
		{
			name:  "garbage lines are ignored",
			input: "Welcome to the image\n=nokey\n",
			want:  probe.Properties{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := probe.Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProperties_Get(t *testing.T) {
	p := probe.Properties{"JAVA_HOME": "/usr/java", "ORACLE_HOME": ""}

	v, ok := p.Get("JAVA_HOME")
	assert.True(t, ok)
	assert.Equal(t, "/usr/java", v)

	_, ok = p.Get("ORACLE_HOME")
	assert.False(t, ok)
	_, ok = p.Get("WLS_VERSION")
	assert.False(t, ok)

	assert.Equal(t, []string{"JAVA_HOME", "ORACLE_HOME"}, p.Keys())
}

type fakeAPI struct {
	missing  bool
	pulled   []string
	stdout   string
	stderr   string
	exitCode int64

	config  *container.Config
	removed []string
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	f.missing = false
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, config *container.Config, _ *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.missing {
		return container.CreateResponse{}, errdefs.NotFound(xerrors.New("no such image"))
	}
	f.config = config
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeAPI) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	return waitCh, make(chan error)
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestDocker_Probe(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		api := &fakeAPI{stdout: "JAVA_HOME=/usr/java/jdk-8\nPACKAGE_MANAGER=APT\n"}
		got, err := probe.NewDocker(api).Probe(context.Background(), "debian:12")
		require.NoError(t, err)
		assert.Equal(t, probe.Properties{"JAVA_HOME": "/usr/java/jdk-8", "PACKAGE_MANAGER": "APT"}, got)

		assert.Equal(t, "debian:12", api.config.Image)
		assert.Equal(t, []string{"/bin/sh", "-c"}, []string(api.config.Entrypoint))
		require.Len(t, api.config.Cmd, 1)
		assert.Contains(t, api.config.Cmd[0], "PACKAGE_MANAGER")
		assert.Equal(t, []string{"c1"}, api.removed)
		assert.Empty(t, api.pulled)
	})

	t.Run("missing image is pulled", func(t *testing.T) {
		api := &fakeAPI{missing: true, stdout: "PACKAGE_MANAGER=YUM\n"}
		got, err := probe.NewDocker(api).Probe(context.Background(), "oraclelinux:7-slim")
		require.NoError(t, err)
		assert.Equal(t, probe.Properties{"PACKAGE_MANAGER": "YUM"}, got)
		assert.Equal(t, []string{"oraclelinux:7-slim"}, api.pulled)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		api := &fakeAPI{exitCode: 127, stderr: "/bin/sh: not found"}
		_, err := probe.NewDocker(api).Probe(context.Background(), "scratch")
		require.Error(t, err)

		var exitErr *probe.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.EqualValues(t, 127, exitErr.ExitCode)
		assert.Contains(t, exitErr.Stderr, "not found")
		assert.Equal(t, []string{"c1"}, api.removed)
	})
}
