package dockerfile

import (
	"bytes"
	_ "embed"
	"path"
	"strings"
	"text/template"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/options"
)

// DefaultBaseImage is used when no starting image is given.
const DefaultBaseImage = "oraclelinux:7-slim"

// Sections of an additional build commands file. Lines before the first
// section header belong to the final section.
const (
	SectionBeforeJDK = "before-jdk-install"
	SectionAfterJDK  = "after-jdk-install"
	SectionBeforeFMW = "before-fmw-install"
	SectionAfterFMW  = "after-fmw-install"
	SectionFinal     = "final-build-commands"
)

var sections = []string{SectionBeforeJDK, SectionAfterJDK, SectionBeforeFMW, SectionAfterFMW, SectionFinal}

//go:embed Dockerfile.tmpl
var text string

var tmpl = template.Must(template.New("Dockerfile").Funcs(template.FuncMap{
	"lines": func(l []string) string { return strings.Join(l, "\n") },
	"base":  path.Base,
	"patchList": func(patches []options.PatchFile) string {
		return strings.Join(lo.Map(patches, func(p options.PatchFile, _ int) string {
			return p.BugName + "_" + p.ReleaseID
		}), ",")
	},
}).Parse(text))

type Manager struct {
	Install    string
	Clean      string
	JDKPackage string
}

var managers = map[options.PackageManager]Manager{
	options.YUM:      {Install: "yum -y install", Clean: "yum clean all", JDKPackage: "java-1.8.0-openjdk-devel"},
	options.DNF:      {Install: "dnf -y install", Clean: "dnf clean all", JDKPackage: "java-1.8.0-openjdk-devel"},
	options.MICRODNF: {Install: "microdnf install", Clean: "microdnf clean all", JDKPackage: "java-1.8.0-openjdk-devel"},
	options.APT:      {Install: "apt-get -y update && apt-get -y install", Clean: "rm -rf /var/lib/apt/lists/*", JDKPackage: "openjdk-8-jdk-headless"},
	options.APK:      {Install: "apk add --no-cache", Clean: "rm -rf /var/cache/apk/*", JDKPackage: "openjdk8"},
	options.ZYPPER:   {Install: "zypper -n install", Clean: "zypper clean", JDKPackage: "java-1_8_0-openjdk-devel"},
}

type data struct {
	*options.Specification
	Manager  Manager
	sections map[string][]string
}

func (d data) Section(name string) []string {
	return d.sections[name]
}

// Render produces the Dockerfile for a specification.
func Render(spec *options.Specification) (string, error) {
	m, ok := managers[spec.PackageManager]
	if !ok {
		return "", xerrors.Errorf("no install commands for package manager %q", spec.PackageManager)
	}
	s := *spec
	if s.BaseImage == "" {
		s.BaseImage = DefaultBaseImage
	}

	secs, err := ParseSections(spec.AdditionalBuildCommands)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, data{Specification: &s, Manager: m, sections: secs}); err != nil {
		return "", xerrors.Errorf("template error: %w", err)
	}
	return buf.String(), nil
}

// ParseSections splits additional build commands by their [section] headers.
// Blank lines and lines starting with '#' are dropped.
func ParseSections(lines []string) (map[string][]string, error) {
	secs := map[string][]string{}
	current := SectionFinal
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			name := strings.ToLower(strings.TrimSpace(trimmed[1 : len(trimmed)-1]))
			if !lo.Contains(sections, name) {
				return nil, xerrors.Errorf("unknown additional build commands section %q", name)
			}
			current = name
			continue
		}
		secs[current] = append(secs[current], line)
	}
	return secs, nil
}
