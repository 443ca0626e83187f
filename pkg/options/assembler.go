package options

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/samber/lo"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/patch"
	"github.com/imagetool/imagetool/pkg/probe"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

const (
	filesDir   = "files"
	patchesDir = "patches"
)

type State int

const (
	StateInit State = iota
	StateProxyResolved
	StateBaseImageIntrospected
	StatePatchesResolved
	StateValidated
	StateAssembled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateProxyResolved:
		return "ProxyResolved"
	case StateBaseImageIntrospected:
		return "BaseImageIntrospected"
	case StatePatchesResolved:
		return "PatchesResolved"
	case StateValidated:
		return "Validated"
	case StateAssembled:
		return "Assembled"
	}
	return "Unknown"
}

// PatchService resolves, validates and downloads patches.
type PatchService interface {
	Locate(ctx context.Context, category types.Category, versionName string, bugs []string) ([]types.PatchMetadata, error)
	CheckConflicts(ctx context.Context, patches []types.PatchMetadata) (aru.ConflictReport, error)
	Fetch(ctx context.Context, patches []types.PatchMetadata) ([]patch.Resolved, error)
}

// PatchServiceFactory builds the patch service once the proxy group is known.
type PatchServiceFactory func(proxy types.Proxy) (PatchService, error)

// ConflictError stops a build whose patches cannot be installed together.
type ConflictError struct {
	Report aru.ConflictReport
}

func (e *ConflictError) Error() string {
	return "patch conflicts detected"
}

func (e *ConflictError) Unwrap() error {
	return types.ErrConflictDetected
}

// Assembler turns Options into a Specification. Each step moves it one state
// forward; any failure aborts the assembly and nothing is returned.
type Assembler struct {
	opts     Options
	prober   probe.Prober
	factory  PatchServiceFactory
	environ  map[string]string
	buildDir string
	logger   *log.Logger

	used     bool
	state    State
	spec     Specification
	service  PatchService
	patches  []types.PatchMetadata
	warnings []string
}

type AssemblerOption func(*Assembler)

// WithEnvironment replaces the process environment used for proxy defaults.
func WithEnvironment(environ map[string]string) AssemblerOption {
	return func(a *Assembler) {
		a.environ = environ
	}
}

// WithBuildDir sets the parent of the build context directory.
func WithBuildDir(dir string) AssemblerOption {
	return func(a *Assembler) {
		a.buildDir = dir
	}
}

func NewAssembler(opts Options, prober probe.Prober, factory PatchServiceFactory, aopts ...AssemblerOption) *Assembler {
	a := &Assembler{
		opts:     opts,
		prober:   prober,
		factory:  factory,
		buildDir: utils.BuildDir(),
		logger:   log.WithPrefix("options"),
	}
	for _, opt := range aopts {
		opt(a)
	}
	if a.environ == nil {
		a.environ = utils.Environ()
	}
	return a
}

func (a *Assembler) State() State {
	return a.state
}

// Warnings returns the non-fatal notes recorded during assembly.
func (a *Assembler) Warnings() []string {
	return a.warnings
}

// Assemble runs every step. On failure the build context directory is removed
// and no specification is returned; downloaded patches stay in the cache.
func (a *Assembler) Assemble(ctx context.Context) (spec *Specification, err error) {
	if a.used {
		return nil, xerrors.New("assembler already used")
	}
	a.used = true
	defer func() {
		if err != nil && a.spec.ContextDir != "" {
			_ = os.RemoveAll(a.spec.ContextDir)
		}
	}()

	if err = a.init(ctx); err != nil {
		return nil, err
	}
	steps := []func(context.Context) error{
		a.resolveProxy,
		a.introspect,
		a.resolvePatches,
		a.validate,
	}
	for _, step := range steps {
		if err = step(ctx); err != nil {
			a.logger.Debug("Assembly failed", log.String("state", a.state.String()), log.Err(err))
			return nil, err
		}
		a.state++
	}
	a.state = StateAssembled

	result := a.spec
	return &result, nil
}

func (a *Assembler) warn(msg string, args ...any) {
	a.logger.Warn(msg, args...)
	a.warnings = append(a.warnings, msg)
}

// init validates local inputs and stages them into a fresh build context.
// Nothing here touches the network or the container engine.
func (a *Assembler) init(_ context.Context) error {
	id, err := ParseIdentity(lo.Ternary(a.opts.Chown == "", "oracle:oracle", a.opts.Chown))
	if err != nil {
		return err
	}

	if a.opts.Tag == "" {
		return xerrors.New("image tag is required")
	}
	if len(a.opts.Patches) > 0 || a.opts.LatestPSU {
		if _, err = version.NewVersion(a.opts.Version); err != nil {
			return xerrors.Errorf("invalid version %q: %w", a.opts.Version, err)
		}
	}

	var commands []string
	if a.opts.AdditionalBuildCommands != "" {
		if commands, err = loadCommands(a.opts.AdditionalBuildCommands); err != nil {
			return err
		}
	}
	for _, f := range a.opts.AdditionalBuildFiles {
		if !utils.IsReadable(f) {
			return xerrors.Errorf("additional build file %s: %w", f, types.ErrResourceNotFound)
		}
	}

	buildID := uuid.NewString()
	a.logger.Info("Starting build", log.String("build_id", buildID))
	if err = os.MkdirAll(a.buildDir, 0o755); err != nil {
		return oops.With("dir_path", a.buildDir).Wrapf(err, "build dir error")
	}
	contextDir, err := os.MkdirTemp(a.buildDir, "imagetool-"+buildID+"-")
	if err != nil {
		return oops.With("dir_path", a.buildDir).Wrapf(err, "build context error")
	}
	a.logger.Info("Build context", log.DirPath(contextDir))

	a.spec = Specification{
		BuildID:                 buildID,
		ContextDir:              contextDir,
		Tag:                     a.opts.Tag,
		BaseImage:               a.opts.FromImage,
		Installers:              Installers{InstallJava: true},
		UserID:                  id.User,
		GroupID:                 id.Group,
		AdditionalBuildCommands: commands,
		BuildNetwork:            a.opts.BuildNetwork,
		Pull:                    a.opts.Pull,
		SkipCleanup:             a.opts.SkipCleanup,
		DryRun:                  a.opts.DryRun,
		DockerPath:              a.opts.DockerPath,
		DockerLog:               a.opts.DockerLog,
	}

	files, err := stageFiles(contextDir, a.opts.AdditionalBuildFiles)
	if err != nil {
		return err
	}
	a.spec.AdditionalFiles = files
	return nil
}

func loadCommands(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, xerrors.Errorf("additional build commands %s: %w", path, types.ErrResourceNotFound)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.With("file_path", path).Wrapf(err, "file read error")
	}
	content := strings.TrimRight(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}

// stageFiles copies each source into <contextDir>/files/<base name>.
func stageFiles(contextDir string, sources []string) ([]FileMapping, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	dups := lo.FindDuplicatesBy(sources, func(src string) string { return filepath.Base(src) })
	if len(dups) > 0 {
		return nil, oops.With("file_path", dups[0]).
			Errorf("additional build files share the name %q", filepath.Base(dups[0]))
	}

	dir := filepath.Join(contextDir, filesDir)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, oops.With("dir_path", dir).Wrapf(err, "mkdir error")
	}

	var mappings []FileMapping
	for _, src := range sources {
		dst := filepath.Join(dir, filepath.Base(src))
		log.Info("Copying additional build file", log.FilePath(src))

		info, err := os.Stat(src)
		if err != nil {
			return nil, xerrors.Errorf("additional build file %s: %w", src, types.ErrResourceNotFound)
		}
		if info.IsDir() {
			err = utils.CopyDir(src, dst)
		} else {
			err = utils.CopyFile(src, dst)
		}
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, FileMapping{
			Source:      src,
			Destination: filepath.ToSlash(filepath.Join(filesDir, filepath.Base(src))),
		})
	}
	return mappings, nil
}

// resolveProxy settles the proxy group before any catalog call is made.
func (a *Assembler) resolveProxy(_ context.Context) error {
	proxy, err := ResolveProxy(a.opts.Proxy, a.environ)
	if err != nil {
		return err
	}
	a.spec.Proxy = proxy
	return nil
}

func (a *Assembler) introspect(ctx context.Context) error {
	explicit := func() (PackageManager, bool) {
		return a.opts.PackageManager, a.opts.PackageManager != "" && a.opts.PackageManager != OSDefault
	}

	if a.opts.FromImage == "" {
		a.spec.PackageManager = Resolve(DefaultPackageManager, explicit)
		return nil
	}

	props, err := a.prober.Probe(ctx, a.opts.FromImage)
	if err != nil {
		return oops.With("image", a.opts.FromImage).Wrapf(err, "base image probe failed")
	}

	if v, ok := props.Get(probe.KeyWLSVersion); ok {
		home, _ := props.Get(probe.KeyOracleHome)
		return xerrors.Errorf("%w: %s already has WebLogic %s installed in %s",
			types.ErrIncompatibleBaseImage, a.opts.FromImage, v, home)
	}

	if home, ok := props.Get(probe.KeyJavaHome); ok {
		a.spec.Installers = Installers{InstallJava: false, JavaHome: home}
		a.logger.Info("Using JDK from base image", log.String("java_home", home))
	}

	probed := func() (PackageManager, bool) {
		v, ok := props.Get(probe.KeyPackageManager)
		if !ok {
			return "", false
		}
		pm, err := ParsePackageManager(v)
		if err != nil || pm == OSDefault {
			a.warn("Ignoring unknown package manager reported by base image", log.String("package_manager", v))
			return "", false
		}
		return pm, true
	}

	detected, detectedOK := probed()
	a.spec.PackageManager = Resolve(DefaultPackageManager, explicit, func() (PackageManager, bool) {
		return detected, detectedOK
	})
	if pm, ok := explicit(); ok && detectedOK && pm != detected {
		a.warn("Package manager override differs from base image",
			log.String("detected", detected.String()), log.String("selected", pm.String()))
	}
	return nil
}

func (a *Assembler) resolvePatches(ctx context.Context) error {
	bugs := lo.Uniq(a.opts.Patches)
	if a.opts.LatestPSU {
		bugs = append([]string{types.Latest}, lo.Without(bugs, types.Latest)...)
	}
	if len(bugs) == 0 {
		return nil
	}

	service, err := a.factory(a.spec.Proxy)
	if err != nil {
		return err
	}
	a.service = service

	patches, err := service.Locate(ctx, a.opts.Category, a.opts.Version, bugs)
	if err != nil {
		return err
	}
	// a search with no hits yields empty metadata
	for i, p := range patches {
		if p == (types.PatchMetadata{}) {
			return xerrors.Errorf("patch %s for %s %s: %w", bugs[i], a.opts.Category, a.opts.Version, types.ErrResourceNotFound)
		}
	}
	a.patches = lo.UniqBy(patches, func(p types.PatchMetadata) string {
		return p.BugName + "\x00" + p.ReleaseID
	})
	return nil
}

func (a *Assembler) validate(ctx context.Context) error {
	if len(a.patches) == 0 {
		return nil
	}

	report, err := a.service.CheckConflicts(ctx, a.patches)
	if err != nil {
		return err
	}
	if report.Conflicts {
		return &ConflictError{Report: report}
	}

	resolved, err := a.service.Fetch(ctx, a.patches)
	if err != nil {
		return err
	}

	dir := filepath.Join(a.spec.ContextDir, patchesDir)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return oops.With("dir_path", dir).Wrapf(err, "mkdir error")
	}
	for _, r := range resolved {
		name := filepath.Base(r.Path)
		if err = utils.CopyFile(r.Path, filepath.Join(dir, name)); err != nil {
			return err
		}
		a.spec.Patches = append(a.spec.Patches, PatchFile{
			Resolved:    r,
			Destination: patchesDir + "/" + name,
		})
	}
	return nil
}
