package dockerbuild_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagetool/imagetool/pkg/dockerbuild"
	"github.com/imagetool/imagetool/pkg/options"
	"github.com/imagetool/imagetool/pkg/types"
)

func TestNewCommand(t *testing.T) {
	always := func(string) bool { return true }
	never := func(string) bool { return false }

	tests := []struct {
		name       string
		spec       options.Specification
		executable func(string) bool
		wantArgs   []string
		wantEngine string
	}{
		{
			name: "defaults",
			spec: options.Specification{ContextDir: "/ctx", Tag: "wls:1"},
			wantArgs: []string{
				"build", "--no-cache", "--force-rm=true", "--tag", "wls:1", "/ctx",
			},
			wantEngine: "docker",
		},
		{
			name: "everything set",
			spec: options.Specification{
				ContextDir:   "/ctx",
				Tag:          "wls:1",
				BuildNetwork: "host",
				Pull:         true,
				SkipCleanup:  true,
				Proxy:        types.Proxy{HTTP: "http://p:80", HTTPS: "http://p:443", NoProxy: "localhost"},
				DockerPath:   "/usr/local/bin/podman",
			},
			executable: always,
			wantArgs: []string{
				"build", "--no-cache", "--tag", "wls:1", "--network=host", "--pull",
				"--build-arg", "http_proxy=http://p:80",
				"--build-arg", "https_proxy=http://p:443",
				"--build-arg", "no_proxy=localhost",
				"/ctx",
			},
			wantEngine: "/usr/local/bin/podman",
		},
		{
			name: "unset proxy values are omitted",
			spec: options.Specification{
				ContextDir: "/ctx",
				Tag:        "wls:1",
				Proxy:      types.Proxy{NoProxy: "localhost"},
			},
			wantArgs: []string{
				"build", "--no-cache", "--force-rm=true", "--tag", "wls:1",
				"--build-arg", "no_proxy=localhost", "/ctx",
			},
			wantEngine: "docker",
		},
		{
			name:       "engine path that is not executable",
			spec:       options.Specification{ContextDir: "/ctx", Tag: "wls:1", DockerPath: "/nope/docker"},
			executable: never,
			wantArgs: []string{
				"build", "--no-cache", "--force-rm=true", "--tag", "wls:1", "/ctx",
			},
			wantEngine: "docker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []dockerbuild.Option
			if tt.executable != nil {
				opts = append(opts, dockerbuild.WithExecutableCheck(tt.executable))
			}
			cmd := dockerbuild.NewCommand(&tt.spec, opts...)
			assert.Equal(t, tt.wantArgs, cmd.Args())
			assert.Equal(t, tt.wantEngine, cmd.Engine())
			assert.Equal(t, !tt.spec.SkipCleanup, cmd.ForceRm())
		})
	}
}

func TestCommand_BuildArgsAreCopied(t *testing.T) {
	cmd := dockerbuild.NewCommand(&options.Specification{Proxy: types.Proxy{HTTP: "http://p:80"}})
	args := cmd.BuildArgs()
	args[0].Value = "changed"
	assert.Equal(t, []dockerbuild.BuildArg{{Key: "http_proxy", Value: "http://p:80"}}, cmd.BuildArgs())
}

func TestRunner_DryRun(t *testing.T) {
	color.NoColor = true
	ctxDir := t.TempDir()
	cmd := dockerbuild.NewCommand(&options.Specification{ContextDir: ctxDir, Tag: "wls:1", DockerPath: "/does/not/exist"})

	var out bytes.Buffer
	err := dockerbuild.NewRunner(&out, dockerbuild.WithDryRun(true)).Run(context.Background(), cmd, "FROM scratch")
	require.NoError(t, err)
	assert.Equal(t, dockerbuild.BeginMarker+"\nFROM scratch\n"+dockerbuild.EndMarker+"\n", out.String())
	assert.NoFileExists(t, filepath.Join(ctxDir, "Dockerfile"))
}

// fakeEngine writes a shell script that prints its arguments.
func fakeEngine(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	script := "#!/bin/sh\necho \"args: $*\"\necho \"dockerfile: $(cat Dockerfile)\"\nexit " + string(rune('0'+exitCode)) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunner_Run(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		ctxDir := t.TempDir()
		logFile := filepath.Join(t.TempDir(), "docker.log")
		cmd := dockerbuild.NewCommand(&options.Specification{
			ContextDir: ctxDir,
			Tag:        "wls:1",
			DockerPath: fakeEngine(t, 0),
		})

		var out bytes.Buffer
		err := dockerbuild.NewRunner(&out, dockerbuild.WithLogFile(logFile)).Run(context.Background(), cmd, "FROM scratch")
		require.NoError(t, err)

		assert.Contains(t, out.String(), "args: build --no-cache --force-rm=true --tag wls:1 "+ctxDir)
		assert.Contains(t, out.String(), "dockerfile: FROM scratch")

		logged, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, out.String(), string(logged))
	})

	t.Run("engine failure", func(t *testing.T) {
		cmd := dockerbuild.NewCommand(&options.Specification{
			ContextDir: t.TempDir(),
			Tag:        "wls:1",
			DockerPath: fakeEngine(t, 3),
		})

		var out bytes.Buffer
		err := dockerbuild.NewRunner(&out).Run(context.Background(), cmd, "FROM scratch")
		require.ErrorContains(t, err, "exit code 3")
	})
}
