package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/models"
	"github.com/dpolishuk/apidocs/internal/pipeline"
)

type stubRefresher struct {
	doc  *models.StoredDoc
	err  error
	job  *models.Job
	refs []models.RepoRef
	opts []pipeline.Options
}

func (s *stubRefresher) Refresh(ctx context.Context, ref models.RepoRef, opts pipeline.Options) (*models.StoredDoc, error) {
	s.refs = append(s.refs, ref)
	s.opts = append(s.opts, opts)
	return s.doc, s.err
}

func (s *stubRefresher) Status(ref models.RepoRef) *models.Job { return s.job }

type stubDocs struct {
	docs map[string][]byte
	meta *models.StoredDoc
}

func (s *stubDocs) Get(ctx context.Context, ref models.RepoRef) ([]byte, error) {
	if doc, ok := s.docs[ref.Key()]; ok {
		return doc, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "get", "no document stored for %s", ref.Key())
}

func (s *stubDocs) Stat(ctx context.Context, ref models.RepoRef) (*models.StoredDoc, error) {
	if s.meta == nil {
		return nil, apperr.New(apperr.KindNotFound, "stat", "no document stored for %s", ref.Key())
	}
	return s.meta, nil
}

type stubCloner struct {
	path string
	err  error
	ref  models.RepoRef
}

func (s *stubCloner) Fetch(ctx context.Context, ref models.RepoRef) (string, error) {
	s.ref = ref
	return s.path, s.err
}

type stubCatalog struct {
	endpoints []models.CatalogEndpoint
	repos     []models.CatalogRepository
}

func (s *stubCatalog) ListEndpoints(ctx context.Context, ref models.RepoRef) ([]models.CatalogEndpoint, error) {
	return s.endpoints, nil
}

func (s *stubCatalog) ListRepositories(ctx context.Context) ([]models.CatalogRepository, error) {
	return s.repos, nil
}

type fixture struct {
	app       *fiber.App
	handler   *Handler
	refresher *stubRefresher
	docs      *stubDocs
	cloner    *stubCloner
}

func newFixture(t *testing.T, viewer string) *fixture {
	t.Helper()
	f := &fixture{
		refresher: &stubRefresher{},
		docs:      &stubDocs{docs: map[string][]byte{}},
		cloner:    &stubCloner{},
	}
	f.handler = NewHandler(f.refresher, f.docs, f.cloner, viewer, time.Minute, nil)
	f.app = fiber.New()
	SetupRoutes(f.app, f.handler)
	return f
}

func writeViewer(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swagger-viewer.html")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func do(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	resp, body := do(t, f.app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestGetDocJSON(t *testing.T) {
	f := newFixture(t, "")
	f.docs.docs["demo@main"] = []byte(`{"openapi":"3.0.0"}`)

	resp, body := do(t, f.app, http.MethodGet, "/api-docs/json?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"openapi":"3.0.0"}`, body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	// a full URL addresses the same document
	resp, _ = do(t, f.app, http.MethodGet, "/api-docs/json?repo=https://host/g/demo.git&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetDocJSON_NotFound(t *testing.T) {
	f := newFixture(t, "")
	resp, body := do(t, f.app, http.MethodGet, "/api-docs/json?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, `"kind":"not_found"`)
}

func TestGetDocJSON_MissingParams(t *testing.T) {
	f := newFixture(t, "")
	resp, _ := do(t, f.app, http.MethodGet, "/api-docs/json?repo=demo", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDocByPath(t *testing.T) {
	f := newFixture(t, "")
	f.docs.docs["demo@main"] = []byte(`{"a":1}`)
	f.docs.docs["demo@feature/x"] = []byte(`{"b":2}`)

	resp, body := do(t, f.app, http.MethodGet, "/api-docs/demo/main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"a":1}`, body)

	resp, body = do(t, f.app, http.MethodGet, "/api-docs/demo/feature%2Fx", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"b":2}`, body)

	resp, body = do(t, f.app, http.MethodGet, "/api-docs/demo/feature/x", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"b":2}`, body)
}

func TestGetDocHTML(t *testing.T) {
	viewer := writeViewer(t, `<script>SwaggerUIBundle({url: "${specUrl}"})</script>`)
	f := newFixture(t, viewer)

	resp, body := do(t, f.app, http.MethodGet, "/api-docs/html?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, `<script>SwaggerUIBundle({url: "demo/main"})</script>`, body)
}

func TestGetDocHTML_EscapesSpecURL(t *testing.T) {
	viewer := writeViewer(t, `url: "${specUrl}"`)
	f := newFixture(t, viewer)

	resp, body := do(t, f.app, http.MethodGet, `/api-docs/html?repo=demo&branch=x%22%3Balert(1)`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, `";alert`)

	// a slash in the branch stays inside the wildcard segment of the JSON route
	resp, body = do(t, f.app, http.MethodGet, `/api-docs/html?repo=demo&branch=feature/x`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `url: "demo/feature%2Fx"`, body)
}

func TestGetDocHTML_TemplateMissing(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "missing.html"))

	resp, body := do(t, f.app, http.MethodGet, "/api-docs/html?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "The API documentation could not be loaded")
	assert.Contains(t, body, "missing.html")
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, "")
	ref, err := models.NewRepoRef("https://host/g/demo.git", "main")
	require.NoError(t, err)
	f.refresher.doc = &models.StoredDoc{Ref: ref, Source: models.SourceAnalyzer, Endpoints: 3, Commit: "abc"}

	resp, body := do(t, f.app, http.MethodPost, "/api-docs/refresh",
		`{"repo_url":"https://host/g/demo.git","branch":"main","use_llm":true,"force_refresh":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.EqualValues(t, 3, got["endpoints"])
	assert.Equal(t, "analyzer", got["source"])

	require.Len(t, f.refresher.refs, 1)
	assert.Equal(t, ref, f.refresher.refs[0])
	assert.Equal(t, pipeline.Options{UseLLM: true, ForceRefresh: true}, f.refresher.opts[0])
}

func TestRefresh_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"extract", apperr.New(apperr.KindExtract, "extract", "analyzer exited with code 1").WithOutput([]byte("Traceback")), 500, "extract"},
		{"fetch", apperr.New(apperr.KindFetch, "fetch", "clone failed"), 500, "fetch"},
		{"llm", apperr.New(apperr.KindLLM, "generate", "LLM error (status 502)"), 500, "llm"},
		{"store", apperr.New(apperr.KindStore, "put", "disk full"), 500, "store"},
		{"timeout", apperr.Wrap(apperr.KindExtract, "extract", context.DeadlineExceeded, "analyzer interrupted"), 504, "extract"},
		{"cancelled", apperr.Wrap(apperr.KindExtract, "extract", context.Canceled, "analyzer interrupted"), 499, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.refresher.err = tt.err

			resp, body := do(t, f.app, http.MethodPost, "/api-docs/refresh", `{"repo_url":"https://host/g/demo.git","branch":"main"}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(body), &got))
			assert.Equal(t, tt.kind, got["kind"])
			assert.NotEmpty(t, got["error"])
		})
	}
}

func TestRefresh_OutputInBody(t *testing.T) {
	f := newFixture(t, "")
	f.refresher.err = apperr.New(apperr.KindExtract, "extract", "analyzer exited with code 1").WithOutput([]byte("Traceback: boom"))

	_, body := do(t, f.app, http.MethodPost, "/api-docs/refresh", `{"repo_url":"https://host/g/demo.git","branch":"main"}`)
	assert.Contains(t, body, `"output":"Traceback: boom"`)
}

func TestRefresh_InvalidInput(t *testing.T) {
	f := newFixture(t, "")
	for _, body := range []string{`{"branch":"main"}`, `{"repo_url":"https://host/g/demo.git"}`, `{"repo_url":"..","branch":"main"}`, `not json`} {
		resp, _ := do(t, f.app, http.MethodPost, "/api-docs/refresh", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, f.refresher.refs)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := do(t, f.app, http.MethodGet, "/api-docs/status?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.docs.meta = &models.StoredDoc{Source: models.SourceAnalyzer, Endpoints: 2}
	resp, body := do(t, f.app, http.MethodGet, "/api-docs/status?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"state":"stored"`)

	f.refresher.job = &models.Job{ID: "j1", State: models.JobExtracting}
	_, body = do(t, f.app, http.MethodGet, "/api-docs/status?repo=demo&branch=main", "")
	assert.Contains(t, body, `"state":"running"`)
	assert.Contains(t, body, `"extracting"`)
}

func TestListEndpoints(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := do(t, f.app, http.MethodGet, "/api-docs/endpoints?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.handler.SetCatalog(&stubCatalog{
		endpoints: []models.CatalogEndpoint{{Path: "/a", Method: "get"}},
		repos:     []models.CatalogRepository{{Name: "demo", Branch: "main"}},
	})
	resp, body := do(t, f.app, http.MethodGet, "/api-docs/endpoints?repo=demo&branch=main", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"path":"/a","method":"get"}]`, body)

	_, body = do(t, f.app, http.MethodGet, "/api-docs/endpoints", "")
	assert.Contains(t, body, `"name":"demo"`)
}

func TestClone(t *testing.T) {
	for _, route := range []string{"/clone", "/git/clone"} {
		t.Run(route, func(t *testing.T) {
			f := newFixture(t, "")
			f.cloner.path = "/clone/repos/demo"

			resp, body := do(t, f.app, http.MethodPost, route, `{"repo_url":"https://host/g/demo.git","branch":"main"}`)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "/clone/repos/demo", body)
			assert.Equal(t, "main", f.cloner.ref.Branch)
		})
	}
}

func TestClone_Failure(t *testing.T) {
	f := newFixture(t, "")
	f.cloner.err = apperr.New(apperr.KindFetch, "fetch", "git clone exited with code 128").WithOutput([]byte("fatal: Remote branch nope not found"))

	resp, body := do(t, f.app, http.MethodPost, "/clone", `{"repo_url":"https://host/g/demo.git","branch":"nope"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "Remote branch nope not found")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 404, StatusFor(apperr.New(apperr.KindNotFound, "get", "x")))
	assert.Equal(t, 400, StatusFor(apperr.New(apperr.KindInvalid, "q", "x")))
	assert.Equal(t, 499, StatusFor(context.Canceled))
	assert.Equal(t, 504, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, 500, StatusFor(errors.New("boom")))
}

func TestRenderError(t *testing.T) {
	page := RenderError("<bad>")
	assert.Contains(t, page, "Error: &lt;bad&gt;")
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, "")
	resp, body := do(t, f.app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "go_goroutines")
}
