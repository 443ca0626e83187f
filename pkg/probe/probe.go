package probe

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Keys reported by the probe script.
const (
	KeyWLSVersion     = "WLS_VERSION"
	KeyOracleHome     = "ORACLE_HOME"
	KeyJavaHome       = "JAVA_HOME"
	KeyPackageManager = "PACKAGE_MANAGER"
)

// Properties is the flat key/value set printed by the probe script.
type Properties map[string]string

// Get returns the value of key, treating a blank value as absent.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prober inspects a base image before anything is layered on top of it.
type Prober interface {
	Probe(ctx context.Context, image string) (Properties, error)
}

// Parse reads KEY=VALUE lines. Blank lines and lines starting with '#' are
// skipped, surrounding quotes are removed from values.
func Parse(r io.Reader) (Properties, error) {
	props := Properties{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
		props[k] = v
	}
	if err := s.Err(); err != nil {
		return nil, xerrors.Errorf("failed to read probe output: %w", err)
	}
	return props, nil
}
