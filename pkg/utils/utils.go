package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

const appName = "imagetool"

// Quiet disables progress output such as download bars and spinners.
var Quiet = false

// CacheDir is where downloaded patches and the cache index live by default.
func CacheDir() string {
	if xdg.CacheHome != "" {
		return filepath.Join(xdg.CacheHome, appName)
	}
	return filepath.Join(os.TempDir(), appName)
}

// BuildDir is the parent of per-build context directories.
func BuildDir() string {
	return os.TempDir()
}

// ConfigFile returns the default settings file path.
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "settings.yaml")
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	m := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
