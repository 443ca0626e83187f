package types

import (
	"fmt"
	"net/url"
	"strings"
)

type Category string

const (
	// CategoryWLS is the product category (WebLogic Server releases).
	CategoryWLS Category = "wls"
	// CategoryFMW is the platform-upgrade category (Fusion Middleware Upgrade releases).
	CategoryFMW Category = "fmw"
)

var categoryInfo = map[Category]struct {
	prefix    string
	productID string
}{
	CategoryWLS: {prefix: "Oracle WebLogic Server", productID: "15991"},
	CategoryFMW: {prefix: "Fusion Middleware Upgrade", productID: "27638"},
}

// NewCategory parses a category name, case-insensitively.
func NewCategory(s string) (Category, error) {
	c := Category(strings.ToLower(s))
	if _, ok := categoryInfo[c]; !ok {
		return "", fmt.Errorf("unknown category: %s", s)
	}
	return c, nil
}

// ReleasePrefix is the display text every release of the category starts with.
func (c Category) ReleasePrefix() string {
	return categoryInfo[c].prefix
}

// ProductID is the catalog product identifier used to scope patch searches.
func (c Category) ProductID() string {
	return categoryInfo[c].productID
}

func (c Category) String() string {
	return string(c)
}

// Latest requests the most recent patch set update instead of a specific bug.
const Latest = "latest"

type PatchMetadata struct {
	BugName      string `json:"bug_name"`
	ReleaseID    string `json:"release_id"`
	DownloadURL  string `json:"download_url"`
	DownloadHost string `json:"download_host"`
}

// FileName returns the catalog's own file name for the artifact, taken from the
// patch_file parameter of the download URL.
func (p PatchMetadata) FileName() (string, bool) {
	u, err := url.Parse(p.DownloadURL)
	if err != nil {
		return "", false
	}
	name := u.Query().Get("patch_file")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

// Validate reports ErrPatchMetadataMalformed listing every empty field.
func (p PatchMetadata) Validate() error {
	var missing []string
	if p.BugName == "" {
		missing = append(missing, "name")
	}
	if p.ReleaseID == "" {
		missing = append(missing, "release id")
	}
	if p.DownloadURL == "" {
		missing = append(missing, "download url")
	} else if _, ok := p.FileName(); !ok {
		missing = append(missing, "patch file")
	}
	if p.DownloadHost == "" {
		missing = append(missing, "download host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrPatchMetadataMalformed, strings.Join(missing, ", "))
	}
	return nil
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

type Proxy struct {
	HTTP    string `json:"http_proxy,omitempty"`
	HTTPS   string `json:"https_proxy,omitempty"`
	NoProxy string `json:"no_proxy,omitempty"`
}
