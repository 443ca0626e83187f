package dbtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	fixtures "github.com/aquasecurity/bolt-fixtures"
	"github.com/imagetool/imagetool/pkg/db"
)

// InitDB seeds a cache index from bolt fixture files and returns its cache dir.
func InitDB(t *testing.T, fixtureFiles []string) string {
	t.Helper()

	// Create a temp dir
	cacheDir := t.TempDir()
	dbPath := db.Path(cacheDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(dbPath), 0o700))

	// Load testdata into BoltDB
	loader, err := fixtures.New(dbPath, fixtureFiles)
	require.NoError(t, err)
	require.NoError(t, loader.Load())
	require.NoError(t, loader.Close())

	return cacheDir
}
