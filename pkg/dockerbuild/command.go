package dockerbuild

import (
	"path/filepath"
	"strings"

	"github.com/imagetool/imagetool/pkg/options"
	"github.com/imagetool/imagetool/pkg/utils"
)

// DefaultEngine is resolved through PATH.
const DefaultEngine = "docker"

type BuildArg struct {
	Key   string
	Value string
}

// Command is a docker build invocation. It is immutable once built.
type Command struct {
	contextDir string
	tag        string
	network    string
	pull       bool
	forceRm    bool
	buildArgs  []BuildArg
	engine     string
}

type Option func(*builder)

type builder struct {
	isExecutable func(string) bool
}

// WithExecutableCheck replaces the check deciding whether an explicit engine
// path is usable.
func WithExecutableCheck(f func(string) bool) Option {
	return func(b *builder) {
		b.isExecutable = f
	}
}

// NewCommand projects a specification into a build invocation. It does not
// touch the network and only stats the explicit engine path.
func NewCommand(spec *options.Specification, opts ...Option) Command {
	b := &builder{isExecutable: utils.IsExecutable}
	for _, opt := range opts {
		opt(b)
	}

	c := Command{
		contextDir: spec.ContextDir,
		tag:        spec.Tag,
		network:    spec.BuildNetwork,
		pull:       spec.Pull,
		forceRm:    !spec.SkipCleanup,
	}
	for _, arg := range []BuildArg{
		{Key: "http_proxy", Value: spec.Proxy.HTTP},
		{Key: "https_proxy", Value: spec.Proxy.HTTPS},
		{Key: "no_proxy", Value: spec.Proxy.NoProxy},
	} {
		if arg.Value != "" {
			c.buildArgs = append(c.buildArgs, arg)
		}
	}
	if spec.DockerPath != "" && b.isExecutable(spec.DockerPath) {
		if abs, err := filepath.Abs(spec.DockerPath); err == nil {
			c.engine = abs
		} else {
			c.engine = spec.DockerPath
		}
	}
	return c
}

func (c Command) ContextDir() string { return c.contextDir }
func (c Command) Tag() string        { return c.tag }
func (c Command) Network() string    { return c.network }
func (c Command) Pull() bool         { return c.pull }
func (c Command) ForceRm() bool      { return c.forceRm }

func (c Command) BuildArgs() []BuildArg {
	return append([]BuildArg(nil), c.buildArgs...)
}

// Engine is the executable to run; the default is left to PATH resolution.
func (c Command) Engine() string {
	if c.engine == "" {
		return DefaultEngine
	}
	return c.engine
}

// Args are the engine arguments, build arguments in insertion order.
func (c Command) Args() []string {
	args := []string{"build", "--no-cache"}
	if c.forceRm {
		args = append(args, "--force-rm=true")
	}
	if c.tag != "" {
		args = append(args, "--tag", c.tag)
	}
	if c.network != "" {
		args = append(args, "--network="+c.network)
	}
	if c.pull {
		args = append(args, "--pull")
	}
	for _, a := range c.buildArgs {
		args = append(args, "--build-arg", a.Key+"="+a.Value)
	}
	return append(args, c.contextDir)
}

func (c Command) String() string {
	return c.Engine() + " " + strings.Join(c.Args(), " ")
}
