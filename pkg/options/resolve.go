package options

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/types"
)

// Strategy yields a value, or false when it has nothing to say.
type Strategy[T any] func() (T, bool)

// Resolve returns the value of the first strategy that has one, else fallback.
func Resolve[T any](fallback T, strategies ...Strategy[T]) T {
	for _, s := range strategies {
		if v, ok := s(); ok {
			return v
		}
	}
	return fallback
}

// Value is a strategy that holds s unless it is blank.
func Value(s string) Strategy[string] {
	return func() (string, bool) {
		s := strings.TrimSpace(s)
		return s, s != ""
	}
}

type proxyEnv struct {
	HTTP         string `env:"http_proxy"`
	HTTPUpper    string `env:"HTTP_PROXY"`
	HTTPS        string `env:"https_proxy"`
	HTTPSUpper   string `env:"HTTPS_PROXY"`
	NoProxy      string `env:"no_proxy"`
	NoProxyUpper string `env:"NO_PROXY"`
}

// ResolveProxy fills each field of explicit independently, first from explicit
// itself, then from the lower and upper case environment variables.
func ResolveProxy(explicit types.Proxy, environment map[string]string) (types.Proxy, error) {
	var e proxyEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: environment}); err != nil {
		return types.Proxy{}, xerrors.Errorf("proxy environment error: %w", err)
	}
	return types.Proxy{
		HTTP:    Resolve("", Value(explicit.HTTP), Value(e.HTTP), Value(e.HTTPUpper)),
		HTTPS:   Resolve("", Value(explicit.HTTPS), Value(e.HTTPS), Value(e.HTTPSUpper)),
		NoProxy: Resolve("", Value(explicit.NoProxy), Value(e.NoProxy), Value(e.NoProxyUpper)),
	}, nil
}
