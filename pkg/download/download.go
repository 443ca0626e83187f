package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"golang.org/x/xerrors"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/types"
	"github.com/imagetool/imagetool/pkg/utils"
)

// Downloader transfers patch artifacts from the catalog's download hosts.
type Downloader struct {
	client      *http.Client
	credentials types.Credentials
	progress    io.Writer
}

type Option func(*Downloader)

func WithHTTPClient(hc *http.Client) Option {
	return func(d *Downloader) {
		d.client = hc
	}
}

// WithProgress sets where the progress bar is drawn; nil disables it.
func WithProgress(w io.Writer) Option {
	return func(d *Downloader) {
		d.progress = w
	}
}

func New(creds types.Credentials, opts ...Option) *Downloader {
	d := &Downloader{
		client:      aru.NewHTTPClient(types.Proxy{}),
		credentials: creds,
		progress:    os.Stderr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url into dst. The body is written to a temporary file next
// to dst and renamed on success, so dst never holds a partial artifact.
func (d *Downloader) Download(ctx context.Context, url, dst string) error {
	eb := oops.With("url", url, "file_path", dst)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eb.Wrapf(err, "failed to create request")
	}
	req.SetBasicAuth(d.credentials.Username, d.credentials.Password)

	resp, err := d.client.Do(req)
	if err != nil {
		return eb.Wrapf(&aru.TransportError{URL: url, Err: err}, "download error")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eb.Wrapf(&aru.TransportError{URL: url, StatusCode: resp.StatusCode}, "download error")
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return eb.Wrapf(err, "temp file create error")
	}
	defer os.Remove(tmp.Name())

	var body io.Reader = resp.Body
	if d.progress != nil && !utils.Quiet && resp.ContentLength > 0 {
		bar := pb.New64(resp.ContentLength).SetUnits(pb.U_BYTES)
		bar.Output = d.progress
		bar.Prefix(filepath.Base(dst))
		bar.Start()
		defer bar.Finish()
		body = bar.NewProxyReader(resp.Body)
	}

	if _, err = io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return eb.Wrapf(err, "download copy error")
	}
	if err = tmp.Close(); err != nil {
		return eb.Wrapf(err, "file close error")
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return xerrors.Errorf("failed to move download into place: %w", err)
	}

	log.Info("Downloaded patch", log.FilePath(dst), log.Int64("size", resp.ContentLength))
	return nil
}
