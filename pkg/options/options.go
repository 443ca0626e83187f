package options

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/patch"
	"github.com/imagetool/imagetool/pkg/types"
)

type PackageManager string

const (
	YUM       PackageManager = "YUM"
	DNF       PackageManager = "DNF"
	MICRODNF  PackageManager = "MICRODNF"
	APT       PackageManager = "APT"
	APK       PackageManager = "APK"
	ZYPPER    PackageManager = "ZYPPER"
	OSDefault PackageManager = "OS_DEFAULT"
)

// DefaultPackageManager is used when nothing else decides. The default base
// image is Oracle Linux 7-slim.
const DefaultPackageManager = YUM

var packageManagers = []PackageManager{YUM, DNF, MICRODNF, APT, APK, ZYPPER, OSDefault}

func ParsePackageManager(s string) (PackageManager, error) {
	pm := PackageManager(strings.ToUpper(strings.TrimSpace(s)))
	if pm == "" {
		return OSDefault, nil
	}
	for _, p := range packageManagers {
		if p == pm {
			return pm, nil
		}
	}
	return "", xerrors.Errorf("unknown package manager: %s", s)
}

func (p PackageManager) String() string {
	return string(p)
}

var accountName = regexp.MustCompile(`^[a-z_]([a-z0-9_-]{0,31}|[a-z0-9_-]{0,30}\$)$`)

// IdentityError names the side of a user:group pair that is not a valid
// POSIX account name.
type IdentityError struct {
	Side  string
	Value string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("invalid %s name %q", e.Side, e.Value)
}

func (e *IdentityError) Unwrap() error {
	return types.ErrInvalidIdentity
}

type Identity struct {
	User  string
	Group string
}

// ParseIdentity parses a "user:group" pair.
func ParseIdentity(s string) (Identity, error) {
	user, group, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(group, ":") {
		return Identity{}, xerrors.Errorf("%w: expected user:group, got %q", types.ErrInvalidIdentity, s)
	}
	id := Identity{User: user, Group: group}
	return id, id.Validate()
}

func (i Identity) Validate() error {
	if !accountName.MatchString(i.User) {
		return &IdentityError{Side: "user", Value: i.User}
	}
	if !accountName.MatchString(i.Group) {
		return &IdentityError{Side: "group", Value: i.Group}
	}
	return nil
}

func (i Identity) String() string {
	return i.User + ":" + i.Group
}

// Options is what the operator asked for.
type Options struct {
	Tag       string
	FromImage string
	Chown     string

	// Explicit proxy settings. Empty fields fall back to the environment.
	Proxy types.Proxy

	PackageManager PackageManager

	AdditionalBuildCommands string
	AdditionalBuildFiles    []string

	Category  types.Category
	Version   string
	Patches   []string
	LatestPSU bool

	BuildNetwork string
	Pull         bool
	SkipCleanup  bool
	DryRun       bool
	DockerPath   string
	DockerLog    string
}

// FileMapping is a file or directory staged into the build context.
// Destination is relative to the context directory.
type FileMapping struct {
	Source      string
	Destination string
}

// Installers records which install steps the build performs.
type Installers struct {
	InstallJava bool
	// JavaHome is the JDK already present in the base image.
	JavaHome string
}

// Specification is a fully resolved and validated build.
type Specification struct {
	BuildID    string
	ContextDir string

	Tag            string
	BaseImage      string
	PackageManager PackageManager
	Installers     Installers
	Proxy          types.Proxy
	UserID         string
	GroupID        string

	AdditionalBuildCommands []string
	AdditionalFiles         []FileMapping
	Patches                 []PatchFile

	BuildNetwork string
	Pull         bool
	SkipCleanup  bool
	DryRun       bool
	DockerPath   string
	DockerLog    string
}

// PatchFile is a downloaded patch staged into the build context.
type PatchFile struct {
	patch.Resolved
	// Destination is relative to the context directory.
	Destination string
}
