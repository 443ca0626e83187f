package aru

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/xerrors"

	"github.com/imagetool/imagetool/pkg/log"
	"github.com/imagetool/imagetool/pkg/types"
)

const (
	DefaultURL = "https://updates.oracle.com"

	releasesPath  = "/Orion/Services/metadata?table=aru_releases"
	languagesPath = "/Orion/Services/metadata?table=aru_languages"
	searchPath    = "/Orion/Services/search"
	conflictPath  = "/Orion/Services/conflict_checks"

	// conflictPlatform is the generic platform id used for conflict checks.
	conflictPlatform = "2000"
)

// TransportError is returned for any request that did not produce a 2xx
// response. It always unwraps to types.ErrCatalogUnavailable, and also to
// types.ErrUnauthorized for HTTP 401.
type TransportError struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	errs := []error{types.ErrCatalogUnavailable}
	if e.StatusCode == http.StatusUnauthorized {
		errs = append(errs, types.ErrUnauthorized)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials types.Credentials
	logger      *log.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(creds types.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultURL,
		httpClient:  NewHTTPClient(types.Proxy{}),
		credentials: creds,
		logger:      log.WithPrefix("aru"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns a client routed through the given proxy group. Empty
// values mean a direct connection for that scheme.
func NewHTTPClient(proxy types.Proxy) *http.Client {
	cfg := &httpproxy.Config{
		HTTPProxy:  proxy.HTTP,
		HTTPSProxy: proxy.HTTPS,
		NoProxy:    proxy.NoProxy,
	}
	proxyFunc := cfg.ProxyFunc()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Minute,
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}
	return c.do(req, c.credentials)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	return c.do(req, c.credentials)
}

// do reads the whole response; documents are only parsed once fully received.
func (c *Client) do(req *http.Request, creds types.Credentials) ([]byte, error) {
	req.SetBasicAuth(creds.Username, creds.Password)
	c.logger.Debug("ARU request", log.String("method", req.Method), log.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	return b, nil
}

// CheckCredentials reports false only when the catalog rejects the
// credentials. Transport failures are not treated as a credentials problem.
func (c *Client) CheckCredentials(ctx context.Context, creds types.Credentials) bool {
	if creds.Empty() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+languagesPath, nil)
	if err != nil {
		return true
	}
	if _, err = c.do(req, creds); err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			return false
		}
		c.logger.Warn("Unable to verify credentials", log.Err(err))
	}
	return true
}
