package aru_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/types"
)

var creds = types.Credentials{Username: "scott@example.com", Password: "tiger"}

type request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
}

type fakeCatalog struct {
	t *testing.T

	mu       sync.Mutex
	requests []request

	status    int
	releases  string
	search    map[string]string // bug (or "latest") => fixture
	conflicts string
}

func (f *fakeCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	f.mu.Lock()
	f.requests = append(f.requests, request{Method: r.Method, Path: r.URL.Path, Query: q, Body: string(body)})
	f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != creds.Username || pass != creds.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	var fixture string
	switch r.URL.Path {
	case "/Orion/Services/metadata":
		if q["table"] == "aru_releases" {
			fixture = f.releases
		} else {
			_, _ = w.Write([]byte("<results/>"))
			return
		}
	case "/Orion/Services/search":
		bug := q["bug"]
		if bug == "" {
			bug = types.Latest
		}
		fixture = f.search[bug]
	case "/Orion/Services/conflict_checks":
		fixture = f.conflicts
	}
	if fixture == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	b, err := os.ReadFile(filepath.Join("testdata", fixture))
	require.NoError(f.t, err)
	_, _ = w.Write(b)
}

func newServer(t *testing.T, f *fakeCatalog) *httptest.Server {
	f.t = t
	if f.releases == "" {
		f.releases = "releases.xml"
	}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_ResolveReleaseID(t *testing.T) {
	tests := []struct {
		name     string
		category types.Category
		version  string
		creds    types.Credentials
		status   int
		want     string
		wantErr  error
	}{
		{
			name:     "wls",
			category: types.CategoryWLS,
			version:  "12.2.1.3.0",
			creds:    creds,
			want:     "R1",
		},
		{
			name:     "fmw uses its own prefix",
			category: types.CategoryFMW,
			version:  "12.2.1.3.0",
			creds:    creds,
			want:     "F1",
		},
		{
			name:     "unknown version",
			category: types.CategoryWLS,
			version:  "10.3.6.0",
			creds:    creds,
			wantErr:  types.ErrVersionNotFound,
		},
		{
			name:     "bad credentials",
			category: types.CategoryWLS,
			version:  "12.2.1.3.0",
			creds:    types.Credentials{Username: "scott@example.com", Password: "wrong"},
			wantErr:  types.ErrUnauthorized,
		},
		{
			name:     "server error",
			category: types.CategoryWLS,
			version:  "12.2.1.3.0",
			creds:    creds,
			status:   http.StatusServiceUnavailable,
			wantErr:  types.ErrCatalogUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newServer(t, &fakeCatalog{status: tt.status})
			c := aru.NewClient(tt.creds, aru.WithBaseURL(ts.URL))

			got, err := c.ResolveReleaseID(context.Background(), tt.category, tt.version)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Unauthorized(t *testing.T) {
	ts := newServer(t, &fakeCatalog{})
	c := aru.NewClient(types.Credentials{Username: "x", Password: "y"}, aru.WithBaseURL(ts.URL))

	_, err := c.Releases(context.Background(), types.CategoryWLS)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	var te *aru.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.ErrorIs(t, err, types.ErrCatalogUnavailable)
}

func TestClient_Releases(t *testing.T) {
	ts := newServer(t, &fakeCatalog{})
	c := aru.NewClient(creds, aru.WithBaseURL(ts.URL))

	releases, err := c.Releases(context.Background(), types.CategoryWLS)
	require.NoError(t, err)
	require.Len(t, releases, 3)

	aru.SortReleases(releases)
	var names []string
	for _, r := range releases {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"14.1.1.0.0", "12.2.1.3.0", "12.2.1.2.0"}, names)
}

func TestClient_Locate(t *testing.T) {
	tests := []struct {
		name      string
		bug       string
		search    map[string]string
		want      types.PatchMetadata
		wantQuery map[string]string
	}{
		{
			name:   "explicit bug",
			bug:    "99999",
			search: map[string]string{"99999": "patch_99999.xml"},
			want: types.PatchMetadata{
				BugName:      "patch99999",
				ReleaseID:    "R1",
				DownloadURL:  "/Orion/Services/download/p99999_122130_Generic.zip?aru=22644574&patch_file=abc.zip",
				DownloadHost: "host1",
			},
			wantQuery: map[string]string{"product": "15991", "release": "R1", "bug": "99999"},
		},
		{
			name:   "latest takes the first result",
			bug:    types.Latest,
			search: map[string]string{types.Latest: "patches_latest.xml"},
			want: types.PatchMetadata{
				BugName:      "patch30000",
				ReleaseID:    "R1",
				DownloadURL:  "/Orion/Services/download/p30000.zip?aru=3&patch_file=p30000.zip",
				DownloadHost: "host1",
			},
			wantQuery: map[string]string{"product": "15991", "release": "R1"},
		},
		{
			name:      "malformed record is returned as is",
			bug:       "12345",
			search:    map[string]string{"12345": "patch_malformed.xml"},
			want:      types.PatchMetadata{BugName: "patch12345", ReleaseID: "R1"},
			wantQuery: map[string]string{"product": "15991", "release": "R1", "bug": "12345"},
		},
		{
			name:      "no result",
			bug:       "55555",
			search:    map[string]string{"55555": "no_patches.xml"},
			want:      types.PatchMetadata{},
			wantQuery: map[string]string{"product": "15991", "release": "R1", "bug": "55555"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCatalog{search: tt.search}
			ts := newServer(t, f)
			c := aru.NewClient(creds, aru.WithBaseURL(ts.URL))

			got, err := c.Locate(context.Background(), types.CategoryWLS, "12.2.1.3.0", tt.bug)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, f.requests, 2)
			assert.Equal(t, "/Orion/Services/search", f.requests[1].Path)
			assert.Equal(t, tt.wantQuery, f.requests[1].Query)
		})
	}
}

func TestClient_Patches(t *testing.T) {
	ts := newServer(t, &fakeCatalog{search: map[string]string{types.Latest: "patches_latest.xml"}})
	c := aru.NewClient(creds, aru.WithBaseURL(ts.URL))

	patches, err := c.Patches(context.Background(), types.CategoryWLS, "12.2.1.3.0")
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "patch30000", patches[0].BugName)
	assert.Equal(t, "patch99999", patches[1].BugName)
}

func TestClient_CheckConflicts(t *testing.T) {
	tests := []struct {
		name        string
		fixture     string
		patches     []string
		wantReport  bool
		wantSets    [][]string
		wantPayload string
	}{
		{
			name:       "conflicting pair",
			fixture:    "conflicts.xml",
			patches:    []string{"11111", "22222"},
			wantReport: true,
			wantSets:   [][]string{{"11111", "22222"}},
			wantPayload: `<conflict_check_request><platform>2000</platform><target_patch_list></target_patch_list>` +
				`<candidate_patch_list rel_id="R1">11111</candidate_patch_list>` +
				`<candidate_patch_list rel_id="R1">22222</candidate_patch_list></conflict_check_request>`,
		},
		{
			name:    "no overlap",
			fixture: "no_conflicts.xml",
			patches: []string{"11111", "33333", "11111"},
			wantPayload: `<conflict_check_request><platform>2000</platform><target_patch_list></target_patch_list>` +
				`<candidate_patch_list rel_id="R1">11111</candidate_patch_list>` +
				`<candidate_patch_list rel_id="R1">33333</candidate_patch_list></conflict_check_request>`,
		},
		{
			name:    "empty conflict sets",
			fixture: "empty_conflict_sets.xml",
			patches: []string{"11111"},
			wantPayload: `<conflict_check_request><platform>2000</platform><target_patch_list></target_patch_list>` +
				`<candidate_patch_list rel_id="R1">11111</candidate_patch_list></conflict_check_request>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCatalog{conflicts: tt.fixture}
			ts := newServer(t, f)
			c := aru.NewClient(creds, aru.WithBaseURL(ts.URL))

			report, err := c.CheckConflicts(context.Background(), "R1", tt.patches)
			require.NoError(t, err)

			require.Len(t, f.requests, 1)
			assert.Equal(t, http.MethodPost, f.requests[0].Method)
			assert.Equal(t, tt.wantPayload, f.requests[0].Body)

			assert.Equal(t, tt.wantReport, report.Conflicts)
			assert.Equal(t, tt.wantSets, report.Sets)
			if !tt.wantReport {
				assert.Empty(t, report.Document)
				return
			}
			assert.Contains(t, report.Document, "<conflict_check_results>")
			assert.Contains(t, report.Document, "<merge_patches>")
			assert.Contains(t, report.Document, "<number>22222</number>")
		})
	}
}

func TestClient_CheckCredentials(t *testing.T) {
	ts := newServer(t, &fakeCatalog{})
	c := aru.NewClient(types.Credentials{}, aru.WithBaseURL(ts.URL))
	ctx := context.Background()

	assert.True(t, c.CheckCredentials(ctx, creds))
	assert.False(t, c.CheckCredentials(ctx, types.Credentials{Username: creds.Username, Password: "wrong"}))
	assert.False(t, c.CheckCredentials(ctx, types.Credentials{Username: creds.Username}))

	// transport noise is not a credentials failure
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	c = aru.NewClient(types.Credentials{}, aru.WithBaseURL(down.URL))
	assert.True(t, c.CheckCredentials(ctx, creds))

	unavailable := newServer(t, &fakeCatalog{status: http.StatusBadGateway})
	c = aru.NewClient(types.Credentials{}, aru.WithBaseURL(unavailable.URL))
	assert.True(t, c.CheckCredentials(ctx, creds))
}
