package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

const metadataFile = "metadata.json"

// Metadata describes the cache index stored next to it.
type Metadata struct {
	Version   int `json:",omitempty"`
	UpdatedAt time.Time
}

// Client reads and writes the metadata file of a cache index
type Client struct {
	filePath string
}

// NewClient is the factory method for the metadata Client
func NewClient(dbDir string) Client {
	return Client{
		filePath: Path(dbDir),
	}
}

// Path is the metadata file kept beside the index in dbDir.
func Path(dbDir string) string {
	return filepath.Join(dbDir, metadataFile)
}

// Get returns the file metadata
func (c Client) Get() (Metadata, error) {
	eb := oops.With("file_path", c.filePath)

	f, err := os.Open(c.filePath)
	if err != nil {
		return Metadata{}, eb.Wrapf(err, "file open error")
	}
	defer f.Close()

	var metadata Metadata
	if err = json.NewDecoder(f).Decode(&metadata); err != nil {
		return Metadata{}, eb.Wrapf(err, "json decode error")
	}
	return metadata, nil
}

// Update replaces the metadata file. The file is written beside the target and
// renamed into place, so readers never see a partial document.
func (c Client) Update(meta Metadata) error {
	eb := oops.With("file_path", c.filePath)

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o744); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}

	b, err := json.Marshal(meta)
	if err != nil {
		return eb.Wrapf(err, "json encode error")
	}

	f, err := os.CreateTemp(dir, metadataFile+".*")
	if err != nil {
		return eb.Wrapf(err, "temp file create error")
	}
	defer os.Remove(f.Name())

	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return eb.Wrapf(err, "file write error")
	}
	if err = f.Close(); err != nil {
		return eb.Wrapf(err, "file close error")
	}
	if err = os.Rename(f.Name(), c.filePath); err != nil {
		return eb.Wrapf(err, "file rename error")
	}
	return nil
}
