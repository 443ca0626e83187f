package aru

import (
	"context"
	"encoding/xml"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/samber/lo"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/types"
)

// Releases returns the catalog snapshot for category, in catalog order.
func (c *Client) Releases(ctx context.Context, category types.Category) ([]Release, error) {
	b, err := c.get(ctx, releasesPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to query releases: %w", err)
	}

	var results releaseResults
	if err = xml.Unmarshal(b, &results); err != nil {
		return nil, oops.With("category", category).Wrapf(err, "releases xml decode error")
	}

	prefix := category.ReleasePrefix()
	return lo.Filter(results.Releases, func(r Release, _ int) bool {
		return strings.HasPrefix(strings.TrimSpace(r.Text), prefix)
	}), nil
}

// ResolveReleaseID maps a version such as 12.2.1.3.0 to its release id. It
// returns an empty id and types.ErrVersionNotFound when the catalog has no
// matching release.
func (c *Client) ResolveReleaseID(ctx context.Context, category types.Category, versionName string) (string, error) {
	releases, err := c.Releases(ctx, category)
	if err != nil {
		return "", err
	}

	r, found := lo.Find(releases, func(r Release) bool {
		return r.Name == versionName
	})
	if !found || r.ID == "" {
		return "", xerrors.Errorf("%s %s: %w", category, versionName, types.ErrVersionNotFound)
	}
	c.logger.Debug("Resolved release", "version", versionName, "release_id", r.ID)
	return r.ID, nil
}

// SortReleases orders releases by version, newest first. Names that do not
// parse as versions sort after the ones that do.
func SortReleases(releases []Release) {
	parsed := lo.SliceToMap(releases, func(r Release) (string, *version.Version) {
		v, err := version.NewVersion(r.Name)
		if err != nil {
			return r.Name, nil
		}
		return r.Name, v
	})
	sort.SliceStable(releases, func(i, j int) bool {
		vi, vj := parsed[releases[i].Name], parsed[releases[j].Name]
		switch {
		case vi != nil && vj != nil:
			return vi.GreaterThan(vj)
		case vi != nil:
			return true
		case vj != nil:
			return false
		}
		return releases[i].Name > releases[j].Name
	})
}
