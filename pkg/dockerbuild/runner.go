package dockerbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/log"
)

const (
	BeginMarker = "########## BEGIN DOCKERFILE ##########"
	EndMarker   = "########## END DOCKERFILE ##########"
)

// Runner executes build commands, or prints the Dockerfile in dry-run mode.
type Runner struct {
	out     io.Writer
	dryRun  bool
	logFile string
	logger  *log.Logger
}

type RunnerOption func(*Runner)

func WithDryRun(dryRun bool) RunnerOption {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithLogFile copies the engine output into path.
func WithLogFile(path string) RunnerOption {
	return func(r *Runner) {
		r.logFile = path
	}
}

func NewRunner(out io.Writer, opts ...RunnerOption) *Runner {
	r := &Runner{
		out:    out,
		logger: log.WithPrefix("docker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run writes the Dockerfile into the build context and runs the engine.
func (r *Runner) Run(ctx context.Context, cmd Command, dockerfile string) error {
	r.logger.Info("Build command", log.String("cmd", cmd.String()))

	if r.dryRun {
		banner := color.New(color.FgCyan, color.Bold)
		_, _ = banner.Fprintln(r.out, BeginMarker)
		_, _ = fmt.Fprintln(r.out, dockerfile)
		_, _ = banner.Fprintln(r.out, EndMarker)
		return nil
	}

	path := filepath.Join(cmd.ContextDir(), "Dockerfile")
	if err := os.WriteFile(path, []byte(dockerfile), 0o644); err != nil {
		return oops.With("file_path", path).Wrapf(err, "dockerfile write error")
	}

	out := r.out
	if r.logFile != "" {
		f, err := os.Create(r.logFile)
		if err != nil {
			return oops.With("file_path", r.logFile).Wrapf(err, "docker log error")
		}
		defer f.Close()
		out = io.MultiWriter(r.out, f)
	}

	c := exec.CommandContext(ctx, cmd.Engine(), cmd.Args()...)
	c.Dir = cmd.ContextDir()
	c.Stdout = out
	c.Stderr = out
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if xerrors.As(err, &exitErr) {
			return xerrors.Errorf("docker build failed with exit code %d", exitErr.ExitCode())
		}
		return xerrors.Errorf("docker build error: %w", err)
	}
	return nil
}
