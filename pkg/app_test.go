package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagetool/imagetool/pkg/cache"
	"github.com/imagetool/imagetool/pkg/config"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

func writeSettings(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	buildDir := filepath.Join(dir, "build")
	path := filepath.Join(dir, "settings.yaml")
	content := fmt.Sprintf("cache_dir: %s\nbuild_dir: %s\n", cacheDir, buildDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, cacheDir, buildDir
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Empty(t, splitList(""))
}

func TestApp_CacheAdd(t *testing.T) {
	settingsPath, cacheDir, _ := writeSettings(t)
	file := filepath.Join(t.TempDir(), "p99999_122130_Generic.zip")
	require.NoError(t, os.WriteFile(file, []byte("zip"), 0o644))

	app := NewApp("dev")
	err := app.Run([]string{"imagetool", "--quiet", "--settings", settingsPath, "cache", "add", "99999", "R1", file})
	require.NoError(t, err)
	require.NoError(t, app.Run([]string{"imagetool", "--quiet", "--settings", settingsPath, "cache", "list"}))

	c, err := cache.Open(cacheDir)
	require.NoError(t, err)
	defer c.Close()

	hit, err := c.Lookup("patch99999##R1", file)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestApp_CacheAdd_MissingFile(t *testing.T) {
	settingsPath, _, _ := writeSettings(t)

	err := NewApp("dev").Run([]string{"imagetool", "--quiet", "--settings", settingsPath,
		"cache", "add", "99999", "R1", filepath.Join(t.TempDir(), "missing.zip")})
	require.ErrorIs(t, err, types.ErrResourceNotFound)
}

func TestApp_CreateDryRun(t *testing.T) {
	settingsPath, _, buildDir := writeSettings(t)
	t.Cleanup(func() { utils.Quiet = false })

	err := NewApp("dev").Run([]string{"imagetool", "--quiet", "--settings", settingsPath,
		"create", "--tag", "wls:dry", "--dryRun", "--chown", "weblogic:dba"})
	require.NoError(t, err)

	// the build context is removed after the run
	entries, err := os.ReadDir(buildDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApp_CreateInvalidIdentity(t *testing.T) {
	settingsPath, _, _ := writeSettings(t)
	t.Cleanup(func() { utils.Quiet = false })

	err := NewApp("dev").Run([]string{"imagetool", "--quiet", "--settings", settingsPath,
		"create", "--tag", "wls:bad", "--dryRun", "--chown", "Root:dba"})
	require.ErrorIs(t, err, types.ErrInvalidIdentity)
}

func TestApp_CreatePatchesWithoutCredentials(t *testing.T) {
	settingsPath, _, _ := writeSettings(t)
	t.Setenv("ARU_PASSWORD", "")
	t.Cleanup(func() { utils.Quiet = false })

	err := NewApp("dev").Run([]string{"imagetool", "--quiet", "--settings", settingsPath,
		"create", "--tag", "wls:p", "--dryRun", "--patches", "99999"})
	require.ErrorContains(t, err, "--user")
}

func TestApp_SettingsInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagetool", "settings.yaml")
	t.Setenv("IMAGETOOL_CACHE_DIR", "/var/cache/imagetool")

	require.NoError(t, NewApp("dev").Run([]string{"imagetool", "--quiet", "--settings", path, "settings", "init"}))

	s, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/imagetool", s.CacheDir)
}
