package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/cache"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

func downloadPatches(c *cli.Context) error {
	ctx, stop := appContext()
	defer stop()

	s, err := settings(c)
	if err != nil {
		return err
	}
	cat, err := category(c)
	if err != nil {
		return err
	}
	creds := credentials(c)
	if creds.Empty() {
		return xerrors.New("--user and the password environment variable are required")
	}

	bugs := lo.Uniq(splitList(c.String("patches")))
	if c.Bool("latestPSU") {
		bugs = append([]string{types.Latest}, bugs...)
	}
	if len(bugs) == 0 {
		return xerrors.New("nothing to download, use --patches or --latestPSU")
	}

	cc, err := cache.Open(s.CacheDir)
	if err != nil {
		return err
	}
	defer cc.Close()

	r := newResolver(s, creds, envProxy(), cc)
	ps, err := r.Locate(ctx, cat, c.String("version"), bugs)
	if err != nil {
		return err
	}
	for i, p := range ps {
		if p == (types.PatchMetadata{}) {
			return xerrors.Errorf("patch %s: %w", bugs[i], types.ErrResourceNotFound)
		}
	}

	report, err := r.CheckConflicts(ctx, ps)
	if err != nil {
		return err
	}
	if report.Conflicts {
		_, _ = color.New(color.FgYellow).Fprintln(os.Stderr, report.Document)
		if !c.Bool("force") {
			return xerrors.Errorf("%w, use --force to download anyway", types.ErrConflictDetected)
		}
		log.Warn("Downloading conflicting patches")
	}

	resolved, err := r.Fetch(ctx, ps)
	if err != nil {
		return err
	}
	for _, p := range resolved {
		fmt.Println(p.Path)
	}
	return nil
}

func cacheList(c *cli.Context) error {
	s, err := settings(c)
	if err != nil {
		return err
	}
	cc, err := cache.Open(s.CacheDir)
	if err != nil {
		return err
	}
	defer cc.Close()

	entries, err := cc.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tPATH\tDOWNLOADED")
	for _, e := range entries {
		path := e.Path
		if exists, _ := utils.Exists(e.Path); !exists {
			path = color.RedString("%s (missing)", e.Path)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, path, e.DownloadedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cacheAdd(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: imagetool cache add <bug> <release> <file>", 2)
	}
	bug, release, file := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

	s, err := settings(c)
	if err != nil {
		return err
	}
	file, err = filepath.Abs(file)
	if err != nil {
		return xerrors.Errorf("path error: %w", err)
	}
	if !utils.IsReadable(file) {
		return xerrors.Errorf("%s: %w", file, types.ErrResourceNotFound)
	}

	cc, err := cache.Open(s.CacheDir)
	if err != nil {
		return err
	}
	defer cc.Close()

	if !strings.HasPrefix(bug, "patch") {
		bug = "patch" + bug
	}
	key := cache.Key(bug, release)
	if err = cc.Put(key, file); err != nil {
		return err
	}
	log.Info("Added cache entry", log.Key(key), log.FilePath(file))
	return nil
}
