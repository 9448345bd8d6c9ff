package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/models"
	"github.com/dpolishuk/apidocs/internal/pipeline"
)

// SpecURLPlaceholder is the token in the viewer template that is replaced
// with the relative URL of the document.
const SpecURLPlaceholder = "${specUrl}"

// ErrorHTML is served in place of the viewer when its template cannot be
// read.
const ErrorHTML = `<html>
<head><title>API documentation error</title></head>
<body>
    <h1>The API documentation could not be loaded</h1>
    <p>Error: %s</p>
    <p>Generate the documentation with POST /api-docs/refresh first.</p>
</body>
</html>
`

type Refresher interface {
	Refresh(ctx context.Context, ref models.RepoRef, opts pipeline.Options) (*models.StoredDoc, error)
	Status(ref models.RepoRef) *models.Job
}

type DocReader interface {
	Get(ctx context.Context, ref models.RepoRef) ([]byte, error)
	Stat(ctx context.Context, ref models.RepoRef) (*models.StoredDoc, error)
}

type Cloner interface {
	Fetch(ctx context.Context, ref models.RepoRef) (string, error)
}

type Catalog interface {
	ListEndpoints(ctx context.Context, ref models.RepoRef) ([]models.CatalogEndpoint, error)
	ListRepositories(ctx context.Context) ([]models.CatalogRepository, error)
}

type Handler struct {
	refresher    Refresher
	docs         DocReader
	cloner       Cloner
	catalog      Catalog
	viewerPath   string
	fetchTimeout time.Duration
	logger       *zap.Logger
}

func NewHandler(refresher Refresher, docs DocReader, cloner Cloner, viewerPath string, fetchTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		refresher:    refresher,
		docs:         docs,
		cloner:       cloner,
		viewerPath:   viewerPath,
		fetchTimeout: fetchTimeout,
		logger:       logging.Component(logger, "api"),
	}
}

// SetCatalog enables the endpoint catalog routes.
func (h *Handler) SetCatalog(catalog Catalog) {
	h.catalog = catalog
}

// RefreshInput is the body of POST /api-docs/refresh.
type RefreshInput struct {
	RepoURL      string `json:"repo_url"`
	Branch       string `json:"branch"`
	UseLLM       bool   `json:"use_llm"`
	ForceRefresh bool   `json:"force_refresh"`
}

// CloneInput is the body of POST /clone.
type CloneInput struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

// Health reports liveness.
func (h *Handler) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "apidocs",
	})
}

// GetDocJSON returns the stored OpenAPI document for ?repo&branch.
func (h *Handler) GetDocJSON(c fiber.Ctx) error {
	ref, err := refFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	return h.sendDoc(c, ref)
}

// GetDocByPath serves /api-docs/:repo/<branch>, the URL the viewer
// resolves its relative spec URL to. Branches may contain slashes.
func (h *Handler) GetDocByPath(c fiber.Ctx) error {
	repo, err := url.PathUnescape(c.Params("repo"))
	if err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "doc", err, "invalid repository"))
	}
	branch, err := url.PathUnescape(strings.Trim(c.Params("*"), "/"))
	if err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "doc", err, "invalid branch"))
	}
	ref, err := models.NewRepoRef(repo, branch)
	if err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "doc", err, "invalid repository"))
	}
	return h.sendDoc(c, ref)
}

func (h *Handler) sendDoc(c fiber.Ctx, ref models.RepoRef) error {
	doc, err := h.docs.Get(c.Context(), ref)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(doc)
}

// GetDocHTML renders the viewer for ?repo&branch. The page is pointed at
// PathEscape(name)/PathEscape(branch) rather than the raw <repo>/<branch>,
// which still resolves to /api-docs/:repo/* and cannot break the markup.
// A viewer template that cannot be read yields the error page with status 200.
func (h *Handler) GetDocHTML(c fiber.Ctx) error {
	ref, err := refFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	page, err := RenderViewer(h.viewerPath, ref)
	if err != nil {
		h.logger.Warn("viewer template unavailable", zap.String("path", h.viewerPath), zap.Error(err))
		return c.SendString(RenderError(err.Error()))
	}
	return c.SendString(page)
}

// Refresh runs the pipeline for the posted repository and returns the
// stored document's metadata.
func (h *Handler) Refresh(c fiber.Ctx) error {
	var input RefreshInput
	if err := c.Bind().Body(&input); err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "refresh", err, "invalid request body"))
	}
	ref, err := models.NewRepoRef(input.RepoURL, input.Branch)
	if err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "refresh", err, "invalid repository"))
	}

	doc, err := h.refresher.Refresh(c.Context(), ref, pipeline.Options{
		UseLLM:       input.UseLLM,
		ForceRefresh: input.ForceRefresh,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(doc)
}

// Status reports the in-flight job for ?repo&branch, or the metadata of
// the stored document when nothing is running.
func (h *Handler) Status(c fiber.Ctx) error {
	ref, err := refFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	if job := h.refresher.Status(ref); job != nil {
		return c.JSON(fiber.Map{"state": "running", "job": job})
	}
	meta, err := h.docs.Stat(c.Context(), ref)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"state": "stored", "document": meta})
}

// ListEndpoints lists catalogued operations for ?repo&branch, or every
// catalogued repository when repo is omitted.
func (h *Handler) ListEndpoints(c fiber.Ctx) error {
	if h.catalog == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "endpoint catalog is disabled"})
	}

	if c.Query("repo") == "" {
		repos, err := h.catalog.ListRepositories(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(repos)
	}

	ref, err := refFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	endpoints, err := h.catalog.ListEndpoints(c.Context(), ref)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(endpoints)
}

// Clone fetches the posted repository and responds with the absolute path
// of its working copy.
func (h *Handler) Clone(c fiber.Ctx) error {
	var input CloneInput
	if err := c.Bind().Body(&input); err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "clone", err, "invalid request body"))
	}
	ref, err := models.NewRepoRef(input.RepoURL, input.Branch)
	if err != nil {
		return h.fail(c, apperr.Wrap(apperr.KindInvalid, "clone", err, "invalid repository"))
	}

	ctx := c.Context()
	if h.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.fetchTimeout)
		defer cancel()
	}
	path, err := h.cloner.Fetch(ctx, ref)
	if err != nil {
		return h.fail(c, err)
	}
	return c.SendString(path)
}

// fail maps a typed error to its status code and diagnostic body.
func (h *Handler) fail(c fiber.Ctx, err error) error {
	status := StatusFor(err)
	kind := apperr.KindOf(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}

	body := fiber.Map{"error": err.Error()}
	if kind != "" {
		body["kind"] = kind
	}
	if out := apperr.OutputOf(err); out != "" {
		body["output"] = out
	}
	if apperr.IsTimeout(err) {
		body["timeout"] = true
	}
	return c.Status(status).JSON(body)
}

// StatusClientClosedRequest is the non-standard status for a request
// abandoned before the pipeline finished.
const StatusClientClosedRequest = 499

// StatusFor maps error kinds to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case apperr.Is(err, apperr.KindCancelled):
		return StatusClientClosedRequest
	case apperr.IsTimeout(err):
		return fiber.StatusGatewayTimeout
	case apperr.Is(err, apperr.KindNotFound):
		return fiber.StatusNotFound
	case apperr.Is(err, apperr.KindInvalid):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func refFromQuery(c fiber.Ctx) (models.RepoRef, error) {
	repo := c.Query("repo")
	branch := c.Query("branch")
	if repo == "" || branch == "" {
		return models.RepoRef{}, apperr.New(apperr.KindInvalid, "query", "repo and branch query parameters are required")
	}
	ref, err := models.NewRepoRef(repo, branch)
	if err != nil {
		return models.RepoRef{}, apperr.Wrap(apperr.KindInvalid, "query", err, "invalid repository")
	}
	return ref, nil
}

// RenderViewer reads the viewer template and points it at the document of
// ref. Both URL segments are path-escaped so the substituted value cannot
// break out of the surrounding markup.
func RenderViewer(templatePath string, ref models.RepoRef) (string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read viewer template: %w", err)
	}
	tmpl := string(raw)
	if !strings.Contains(tmpl, SpecURLPlaceholder) {
		return "", errors.New("viewer template has no " + SpecURLPlaceholder + " placeholder")
	}
	specURL := url.PathEscape(ref.Name()) + "/" + url.PathEscape(ref.Branch)
	return strings.Replace(tmpl, SpecURLPlaceholder, specURL, 1), nil
}

// RenderError fills the error page with message.
func RenderError(message string) string {
	return fmt.Sprintf(ErrorHTML, html.EscapeString(message))
}
