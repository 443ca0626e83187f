package pkg

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/cache"
	"github.com/imagetool/imagetool/pkg/config"
	"github.com/imagetool/imagetool/pkg/download"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/options"
	"github.com/imagetool/imagetool/pkg/patch"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

func newClient(s config.Settings, creds types.Credentials, proxy types.Proxy) *aru.Client {
	return aru.NewClient(creds,
		aru.WithBaseURL(s.ARUURL),
		aru.WithHTTPClient(aru.NewHTTPClient(proxy)),
	)
}

func newResolver(s config.Settings, creds types.Credentials, proxy types.Proxy, c *cache.Cache) *patch.Resolver {
	var progress io.Writer
	if !utils.Quiet {
		progress = os.Stderr
	}
	d := download.New(creds,
		download.WithHTTPClient(aru.NewHTTPClient(proxy)),
		download.WithProgress(progress),
	)
	return patch.NewResolver(newClient(s, creds, proxy), c, d)
}

// catalogClient builds a client for the listing commands. Their proxy comes
// from the environment only.
func catalogClient(c *cli.Context) (*aru.Client, types.Category, error) {
	s, err := settings(c)
	if err != nil {
		return nil, "", err
	}
	cat, err := category(c)
	if err != nil {
		return nil, "", err
	}
	creds := credentials(c)
	if creds.Empty() {
		return nil, "", xerrors.New("--user and the password environment variable are required")
	}
	return newClient(s, creds, envProxy()), cat, nil
}

func envProxy() types.Proxy {
	proxy, err := options.ResolveProxy(types.Proxy{}, utils.Environ())
	if err != nil {
		log.Warn("Ignoring proxy environment", log.Err(err))
		return types.Proxy{}
	}
	return proxy
}

// wait shows a spinner on stderr until the returned func is called.
func wait(msg string) func() {
	if utils.Quiet {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

func releases(c *cli.Context) error {
	ctx, stop := appContext()
	defer stop()

	client, cat, err := catalogClient(c)
	if err != nil {
		return err
	}

	done := wait("Fetching releases")
	rs, err := client.Releases(ctx, cat)
	done()
	if err != nil {
		return err
	}
	aru.SortReleases(rs)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tRELEASE\tDESCRIPTION")
	for _, r := range rs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.ID, r.Text)
	}
	return w.Flush()
}

func patches(c *cli.Context) error {
	ctx, stop := appContext()
	defer stop()

	client, cat, err := catalogClient(c)
	if err != nil {
		return err
	}
	if c.String("version") == "" {
		return xerrors.New("--version is required")
	}

	done := wait("Searching patches")
	ps, err := client.Patches(ctx, cat, c.String("version"))
	done()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATCH\tRELEASE\tFILE")
	for _, p := range ps {
		name, _ := p.FileName()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.BugName, p.ReleaseID, name)
	}
	return w.Flush()
}

func checkCredentials(c *cli.Context) error {
	ctx, stop := appContext()
	defer stop()

	s, err := settings(c)
	if err != nil {
		return err
	}
	creds := credentials(c)
	client := newClient(s, types.Credentials{}, envProxy())
	if !client.CheckCredentials(ctx, creds) {
		return cli.NewExitError(color.RedString("invalid credentials for %s", creds.Username), 1)
	}
	log.Info("Credentials are valid", log.String("user", creds.Username))
	return nil
}
