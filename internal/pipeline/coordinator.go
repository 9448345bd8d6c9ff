// Package pipeline runs the fetch, extract, augment, assemble and store
// stages for one repository branch at a time.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/config"
	"github.com/dpolishuk/apidocs/internal/llm"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/metrics"
	"github.com/dpolishuk/apidocs/internal/models"
	"github.com/dpolishuk/apidocs/internal/openapi"
)

// Fetcher hands out working copies. The directory returned by Checkout
// stays intact until release is called, even if another job of the same
// repository asks for a forced re-clone meanwhile.
type Fetcher interface {
	Checkout(ctx context.Context, ref models.RepoRef, force bool) (workingCopy string, release func(), err error)
	GetCurrentCommit(repoPath string) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, workingCopy string) ([]models.EndpointDescriptor, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type DocStore interface {
	Put(ctx context.Context, doc models.StoredDoc) error
	Get(ctx context.Context, ref models.RepoRef) ([]byte, error)
	Stat(ctx context.Context, ref models.RepoRef) (*models.StoredDoc, error)
}

// Catalog receives every successfully stored document. Its failures never
// fail a refresh.
type Catalog interface {
	Publish(ctx context.Context, doc models.StoredDoc, descs []models.EndpointDescriptor) error
}

// Options are the per-request switches of a refresh.
type Options struct {
	UseLLM       bool `json:"use_llm"`
	ForceRefresh bool `json:"force_refresh"`
}

type Config struct {
	Timeouts config.TimeoutsConfig
	Source   llm.SourceOptions
}

// Coordinator deduplicates concurrent refreshes of the same RepoRef and
// tracks the in-flight job of each.
type Coordinator struct {
	fetcher   Fetcher
	extractor Extractor
	generator Generator
	assembler *openapi.Assembler
	store     DocStore
	catalog   Catalog
	cfg       Config
	logger    *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	jobs  map[string]*models.Job
}

// NewCoordinator wires the stages. generator may be nil, in which case
// refreshes that ask for the LLM fail with an LLM error.
func NewCoordinator(fetcher Fetcher, extractor Extractor, generator Generator, assembler *openapi.Assembler, store DocStore, cfg Config, logger *zap.Logger) *Coordinator {
	if assembler == nil {
		assembler = &openapi.Assembler{}
	}
	return &Coordinator{
		fetcher:   fetcher,
		extractor: extractor,
		generator: generator,
		assembler: assembler,
		store:     store,
		cfg:       cfg,
		logger:    logging.Component(logger, "pipeline"),
		jobs:      make(map[string]*models.Job),
	}
}

// SetCatalog attaches an optional catalog publisher.
func (c *Coordinator) SetCatalog(catalog Catalog) {
	c.catalog = catalog
}

// Refresh regenerates and stores the document for ref. A call that
// arrives while a refresh of the same key is running joins it and
// receives the same result; its own opts are ignored. A joiner whose ctx
// ends first returns Cancelled without affecting the running job.
func (c *Coordinator) Refresh(ctx context.Context, ref models.RepoRef, opts Options) (*models.StoredDoc, error) {
	leader := false
	ch := c.group.DoChan(ref.Key(), func() (any, error) {
		leader = true
		return c.run(ctx, ref, opts)
	})

	select {
	case res := <-ch:
		if !leader {
			metrics.IncJoined()
			c.logger.Debug("joined in-flight refresh", zap.String("repo", ref.Key()))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		doc := *res.Val.(*models.StoredDoc)
		return &doc, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindCancelled, "refresh", ctx.Err(), "refresh of %s abandoned", ref.Key())
	}
}

// Status returns a snapshot of the in-flight job for ref, or nil.
func (c *Coordinator) Status(ref models.RepoRef) *models.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[ref.Key()]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Stored returns the metadata of the last stored document for ref.
func (c *Coordinator) Stored(ctx context.Context, ref models.RepoRef) (*models.StoredDoc, error) {
	return c.store.Stat(ctx, ref)
}

func (c *Coordinator) run(ctx context.Context, ref models.RepoRef, opts Options) (*models.StoredDoc, error) {
	job := c.startJob(ref, opts)
	defer c.finishJob(ref)

	log := c.logger.With(zap.String("job", job.ID), zap.String("repo", ref.Key()))
	log.Info("refresh started", zap.Bool("use_llm", opts.UseLLM), zap.Bool("force_refresh", opts.ForceRefresh))

	start := time.Now()
	doc, err := c.execute(ctx, ref, opts, log)
	if err != nil {
		c.setState(ref, models.JobFailed, err)
		metrics.IncRefresh(refreshOutcome(err))
		fields := []zap.Field{
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Bool("timeout", apperr.IsTimeout(err)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		}
		// Error() omits captured subprocess output.
		if out := apperr.OutputOf(err); out != "" {
			fields = append(fields, zap.String("output", out))
		}
		log.Error("refresh failed", fields...)
		return nil, err
	}

	c.setState(ref, models.JobDone, nil)
	metrics.IncRefresh("ok")
	metrics.ObserveEndpoints(doc.Endpoints)
	log.Info("refresh finished",
		zap.Int("endpoints", doc.Endpoints),
		zap.String("source", string(doc.Source)),
		zap.String("commit", doc.Commit),
		zap.Duration("duration", time.Since(start)))
	return doc, nil
}

func (c *Coordinator) execute(ctx context.Context, ref models.RepoRef, opts Options, log *zap.Logger) (*models.StoredDoc, error) {
	var workingCopy string
	release := func() {}
	err := c.stage(ctx, ref, models.JobFetching, apperr.KindFetch, c.cfg.Timeouts.Fetch, func(ctx context.Context) error {
		var err error
		workingCopy, release, err = c.fetcher.Checkout(ctx, ref, opts.ForceRefresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	// The working copy is read until the commit is resolved.
	defer func() { release() }()

	var descs []models.EndpointDescriptor
	err = c.stage(ctx, ref, models.JobExtracting, apperr.KindExtract, c.cfg.Timeouts.Extract, func(ctx context.Context) error {
		var err error
		descs, err = c.extractor.Extract(ctx, workingCopy)
		return err
	})
	if err != nil {
		return nil, err
	}

	source := models.SourceAnalyzer
	if opts.UseLLM {
		err = c.stage(ctx, ref, models.JobAugmenting, apperr.KindLLM, c.cfg.Timeouts.LLM, func(ctx context.Context) error {
			augmented, used, err := c.augment(ctx, workingCopy, descs, log)
			if err != nil {
				return err
			}
			if used {
				if len(descs) == 0 {
					source = models.SourceLLM
				} else {
					source = models.SourceAnalyzerLLM
				}
				descs = augmented
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var body []byte
	var count int
	err = c.stage(ctx, ref, models.JobAssembling, apperr.KindAssemble, c.cfg.Timeouts.Assemble, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindAssemble, "assemble", err, "assembly aborted")
		}
		doc := c.assembler.Build(descs)
		count = openapi.CountOperations(doc)
		var err error
		body, err = openapi.Encode(doc)
		return err
	})
	if err != nil {
		return nil, err
	}

	commit, err := c.fetcher.GetCurrentCommit(workingCopy)
	release()
	release = func() {}
	if err != nil {
		log.Debug("could not resolve commit", zap.Error(err))
	}

	stored := &models.StoredDoc{
		Ref:        ref,
		Document:   body,
		ProducedAt: time.Now().UTC(),
		Commit:     commit,
		Source:     source,
		Endpoints:  count,
	}
	err = c.stage(ctx, ref, models.JobStoring, apperr.KindStore, c.cfg.Timeouts.Store, func(ctx context.Context) error {
		return c.store.Put(ctx, *stored)
	})
	if err != nil {
		return nil, err
	}

	c.publish(ctx, *stored, descs, log)
	return stored, nil
}

// augment asks the LLM for an OpenAPI document of the working copy. With
// no analyzer descriptors the generated ones are used as they are,
// otherwise they only enrich. used is false when there was no source to
// send.
func (c *Coordinator) augment(ctx context.Context, workingCopy string, descs []models.EndpointDescriptor, log *zap.Logger) ([]models.EndpointDescriptor, bool, error) {
	if c.generator == nil {
		return nil, false, apperr.New(apperr.KindLLM, "augment", "LLM augmentation requested but no LLM is configured")
	}

	source, err := llm.CollectSource(workingCopy, c.cfg.Source)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindLLM, "augment", err, "failed to collect source")
	}
	if strings.TrimSpace(source) == "" {
		log.Warn("no source files matched, skipping LLM augmentation")
		return nil, false, nil
	}

	reply, err := c.generator.Generate(ctx, llm.BuildPrompt(source))
	if err != nil {
		return nil, false, err
	}
	generated, err := llm.DescriptorsFromOpenAPI([]byte(llm.ExtractJSON(reply)))
	if err != nil {
		return nil, false, err
	}

	log.Info("LLM augmentation applied",
		zap.Int("analyzer_descriptors", len(descs)),
		zap.Int("generated_descriptors", len(generated)))
	if len(descs) == 0 {
		return generated, true, nil
	}
	return llm.Enrich(descs, generated), true, nil
}

func (c *Coordinator) publish(ctx context.Context, doc models.StoredDoc, descs []models.EndpointDescriptor, log *zap.Logger) {
	if c.catalog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeouts.Store+time.Second)
	defer cancel()
	if err := c.catalog.Publish(ctx, doc, descs); err != nil {
		log.Warn("failed to publish endpoints to catalog", zap.Error(err))
	}
}

// stage runs fn under the stage timeout. Errors that did not come back
// typed are classified with kind.
func (c *Coordinator) stage(ctx context.Context, ref models.RepoRef, state models.JobState, kind apperr.Kind, timeout time.Duration, fn func(context.Context) error) error {
	c.setState(ref, state, nil)

	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(stageCtx)
	if err != nil && apperr.KindOf(err) == "" {
		err = apperr.Wrap(kind, string(kind), err, "%s stage failed", kind)
	}
	metrics.ObserveStage(string(kind), time.Since(start), err)
	return err
}

func (c *Coordinator) startJob(ref models.RepoRef, opts Options) *models.Job {
	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		Ref:       ref,
		State:     models.JobFetching,
		UseLLM:    opts.UseLLM,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.jobs[ref.Key()] = job
	c.mu.Unlock()
	return job
}

func (c *Coordinator) setState(ref models.RepoRef, state models.JobState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[ref.Key()]
	if !ok {
		return
	}
	job.State = state
	job.UpdatedAt = time.Now().UTC()
	if err != nil {
		job.Error = err.Error()
	}
}

func (c *Coordinator) finishJob(ref models.RepoRef) {
	c.mu.Lock()
	delete(c.jobs, ref.Key())
	c.mu.Unlock()
}

func refreshOutcome(err error) string {
	switch {
	case apperr.Is(err, apperr.KindCancelled):
		return "cancelled"
	case apperr.IsTimeout(err):
		return "timeout"
	default:
		return string(apperr.KindOf(err))
	}
}
