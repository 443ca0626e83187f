package patch

import (
	"context"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/cache"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/types"
)

const defaultParallel = 4

type Catalog interface {
	Locate(ctx context.Context, category types.Category, versionName, bug string) (types.PatchMetadata, error)
	CheckConflicts(ctx context.Context, releaseID string, patchIDs []string) (aru.ConflictReport, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Resolved is a patch whose artifact is present in the cache.
type Resolved struct {
	types.PatchMetadata
	Path string `json:"path"`
}

// Resolver turns bug numbers into cached patch files.
type Resolver struct {
	catalog    Catalog
	cache      *cache.Cache
	downloader Downloader
	parallel   int
}

type Option func(*Resolver)

func WithParallel(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.parallel = n
		}
	}
}

func NewResolver(catalog Catalog, c *cache.Cache, d Downloader, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:    catalog,
		cache:      c,
		downloader: d,
		parallel:   defaultParallel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Locate looks up the metadata of every bug. Results keep the order of bugs.
func (r *Resolver) Locate(ctx context.Context, category types.Category, versionName string, bugs []string) ([]types.PatchMetadata, error) {
	bugs = lo.Uniq(bugs)
	patches := make([]types.PatchMetadata, len(bugs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, bug := range bugs {
		g.Go(func() error {
			m, err := r.catalog.Locate(ctx, category, versionName, bug)
			if err != nil {
				return oops.With("bug", bug).Wrapf(err, "failed to locate patch")
			}
			patches[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return patches, nil
}

// CheckConflicts validates the patch set, one conflict check per release.
func (r *Resolver) CheckConflicts(ctx context.Context, patches []types.PatchMetadata) (aru.ConflictReport, error) {
	byRelease := lo.GroupBy(patches, func(p types.PatchMetadata) string {
		return p.ReleaseID
	})
	var reports []aru.ConflictReport
	for _, releaseID := range lo.Uniq(lo.Map(patches, func(p types.PatchMetadata, _ int) string { return p.ReleaseID })) {
		ids := lo.Map(byRelease[releaseID], func(p types.PatchMetadata, _ int) string { return p.BugName })
		report, err := r.catalog.CheckConflicts(ctx, releaseID, ids)
		if err != nil {
			return aru.ConflictReport{}, err
		}
		reports = append(reports, report)
	}
	return aru.MergeReports(reports...)
}

// Fetch makes sure every patch is in the cache, downloading only misses.
func (r *Resolver) Fetch(ctx context.Context, patches []types.PatchMetadata) ([]Resolved, error) {
	resolved := make([]Resolved, len(patches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, p := range patches {
		g.Go(func() error {
			path, err := r.fetch(ctx, p)
			if err != nil {
				return err
			}
			resolved[i] = Resolved{PatchMetadata: p, Path: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *Resolver) fetch(ctx context.Context, p types.PatchMetadata) (string, error) {
	key := cache.Key(p.BugName, p.ReleaseID)

	// without a file name there is no cached copy to find
	name, ok := p.FileName()
	if !ok {
		return "", oops.With("key", key).Wrap(p.Validate())
	}
	expected := filepath.Join(r.cache.Dir(), name)

	path, err := r.cache.Ensure(ctx, key, expected, func(ctx context.Context, dst string) error {
		if err := p.Validate(); err != nil {
			return err
		}
		log.Info("Downloading patch", log.Key(key), log.FilePath(dst))
		return r.downloader.Download(ctx, p.DownloadHost+p.DownloadURL, dst)
	})
	if err != nil {
		return "", xerrors.Errorf("failed to fetch %s: %w", key, err)
	}
	return path, nil
}
