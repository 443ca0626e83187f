package aru

import (
	"context"
	"encoding/xml"
	"net/url"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/types"
)

// Locate finds the patch metadata for bug, or for the latest patch set update
// when bug is types.Latest. The first search result is canonical. Empty
// fields are not an error here; PatchMetadata.Validate reports them once a
// download is actually needed.
func (c *Client) Locate(ctx context.Context, category types.Category, versionName, bug string) (types.PatchMetadata, error) {
	releaseID, err := c.ResolveReleaseID(ctx, category, versionName)
	if err != nil {
		return types.PatchMetadata{}, err
	}

	patches, err := c.search(ctx, category, releaseID, bug)
	if err != nil {
		return types.PatchMetadata{}, err
	}
	if len(patches) == 0 {
		c.logger.Warn("No patch found", "bug", bug, "release_id", releaseID)
		return types.PatchMetadata{}, nil
	}
	return toMetadata(patches[0]), nil
}

// Patches lists every patch the catalog knows for a release.
func (c *Client) Patches(ctx context.Context, category types.Category, versionName string) ([]types.PatchMetadata, error) {
	releaseID, err := c.ResolveReleaseID(ctx, category, versionName)
	if err != nil {
		return nil, err
	}
	patches, err := c.search(ctx, category, releaseID, types.Latest)
	if err != nil {
		return nil, err
	}
	return lo.Map(patches, func(p patchNode, _ int) types.PatchMetadata {
		return toMetadata(p)
	}), nil
}

func (c *Client) search(ctx context.Context, category types.Category, releaseID, bug string) ([]patchNode, error) {
	q := url.Values{}
	q.Set("product", category.ProductID())
	q.Set("release", releaseID)
	if bug != types.Latest {
		q.Set("bug", bug)
	}

	b, err := c.get(ctx, searchPath+"?"+q.Encode())
	if err != nil {
		return nil, xerrors.Errorf("failed to search patches: %w", err)
	}

	var results patchResults
	if err = xml.Unmarshal(b, &results); err != nil {
		return nil, oops.With("release_id", releaseID, "bug", bug).Wrapf(err, "patch search xml decode error")
	}
	return results.Patches, nil
}

func toMetadata(p patchNode) types.PatchMetadata {
	var m types.PatchMetadata
	m.BugName, _ = p.bugName()
	m.ReleaseID, _ = p.releaseID()
	m.DownloadURL, _ = p.downloadURL()
	m.DownloadHost, _ = p.downloadHost()
	return m
}
