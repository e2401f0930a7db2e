// Package pipeline orchestrates one full ingestion run: query fan-out,
// article extraction, entity and quote mining, enrichment and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/medwatch/config"
	"github.com/mohammad-safakhou/medwatch/internal/facts"
	"github.com/mohammad-safakhou/medwatch/internal/snapshot"
	"github.com/mohammad-safakhou/medwatch/internal/store"
	"github.com/mohammad-safakhou/medwatch/internal/telemetry"
	"github.com/mohammad-safakhou/medwatch/models"
)

// ErrRunInProgress is returned when a run is requested while another run
// holds the run lock. The caller surfaces it instead of queueing.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Discoverer finds recent article references for one query.
type Discoverer interface {
	Discover(ctx context.Context, query string) ([]models.ArticleReference, error)
}

// Extractor parses the full content of one referenced article.
type Extractor interface {
	Extract(ctx context.Context, ref models.ArticleReference) (models.ArticleContent, error)
}

// Enricher resolves a speaker's public profile link. A miss is the empty
// string, never an error.
type Enricher interface {
	Resolve(ctx context.Context, speaker, organization string) string
}

// Locker guards runs across processes. Acquire returns false when another
// process holds the lock.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Pipeline wires the ingestion stages together. Construct once and share; a
// process-local mutex rejects overlapping runs.
type Pipeline struct {
	cfg        config.IngestConfig
	discoverer Discoverer
	extractor  Extractor
	enricher   Enricher
	recognizer facts.Recognizer
	attributor facts.QuoteAttributor
	registry   *facts.Registry
	snapshots  *snapshot.Store
	runs       *store.Store
	lock       Locker
	metrics    *telemetry.Metrics
	logger     *log.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Deps bundles the pipeline's collaborators. Runs and Lock are optional.
type Deps struct {
	Discoverer Discoverer
	Extractor  Extractor
	Enricher   Enricher
	Recognizer facts.Recognizer
	Attributor facts.QuoteAttributor
	Registry   *facts.Registry
	Snapshots  *snapshot.Store
	Runs       *store.Store
	Lock       Locker
	Metrics    *telemetry.Metrics
	Logger     *log.Logger
}

func New(cfg config.IngestConfig, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		discoverer: deps.Discoverer,
		extractor:  deps.Extractor,
		enricher:   deps.Enricher,
		recognizer: deps.Recognizer,
		attributor: deps.Attributor,
		registry:   deps.Registry,
		snapshots:  deps.Snapshots,
		runs:       deps.Runs,
		lock:       deps.Lock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Run executes one complete ingestion run and persists the resulting
// snapshot. Overlapping calls fail fast with ErrRunInProgress.
func (p *Pipeline) Run(ctx context.Context) (models.Snapshot, error) {
	if !p.mu.TryLock() {
		return models.Snapshot{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("run lock: %w", err)
		}
		if !ok {
			return models.Snapshot{}, ErrRunInProgress
		}
		defer p.lock.Release(ctx)
	}

	runID := uuid.NewString()
	started := p.now()
	p.logger.Printf("run %s started (%d queries)", runID, len(p.cfg.Queries))
	if p.runs != nil {
		if err := p.runs.CreateRun(ctx, runID); err != nil {
			p.logger.Printf("run %s: record start: %v", runID, err)
		}
	}

	snap, err := p.execute(ctx)
	if p.metrics != nil {
		p.metrics.RunDuration.Observe(p.now().Sub(started).Seconds())
	}
	if err != nil {
		p.finish(ctx, runID, store.RunStatusFailed, 0, err)
		return models.Snapshot{}, err
	}
	p.finish(ctx, runID, store.RunStatusSucceeded, len(snap.Records), nil)
	p.logger.Printf("run %s finished: %d records in %s", runID, len(snap.Records), p.now().Sub(started).Round(time.Millisecond))
	return snap, nil
}

func (p *Pipeline) finish(ctx context.Context, runID, status string, records int, runErr error) {
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(status).Inc()
	}
	if p.runs == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := p.runs.FinishRun(ctx, runID, status, records, msg); err != nil {
		p.logger.Printf("run %s: record finish: %v", runID, err)
	}
}

func (p *Pipeline) execute(ctx context.Context) (models.Snapshot, error) {
	refs := p.discover(ctx)
	records := p.process(ctx, refs)

	// a cancelled run must not replace the last good snapshot with the
	// partial batch the workers had when the context died
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("run cancelled before persist: %w", err)
	}

	snap := models.Snapshot{GeneratedAt: p.now().UTC(), Records: records}
	if err := p.snapshots.Save(snap); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

// discover fans out over the configured queries sequentially and merges the
// results, deduplicating by link in first-seen order. A failed query is
// logged and skipped; the run carries on with the remaining queries.
func (p *Pipeline) discover(ctx context.Context) []models.ArticleReference {
	seen := make(map[string]struct{})
	var refs []models.ArticleReference
	for _, query := range p.cfg.Queries {
		found, err := p.discoverer.Discover(ctx, query)
		if err != nil {
			p.logger.Printf("discovery failed for %q: %v", query, err)
			continue
		}
		if p.metrics != nil {
			p.metrics.ArticlesFound.Add(float64(len(found)))
		}
		for _, ref := range found {
			if _, dup := seen[ref.Link]; dup {
				continue
			}
			seen[ref.Link] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}

// process runs per-article workers bounded by MaxWorkers. Results land in a
// slot per reference so record order matches discovery order regardless of
// completion order.
func (p *Pipeline) process(ctx context.Context, refs []models.ArticleReference) []models.ArticleRecord {
	results := make([]*models.ArticleRecord, len(refs))
	sem := make(chan struct{}, p.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ref models.ArticleReference) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.processArticle(ctx, ref)
		}(i, ref)
	}
	wg.Wait()

	records := []models.ArticleRecord{}
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	if p.metrics != nil {
		p.metrics.ArticlesProcessed.Add(float64(len(records)))
	}
	return records
}

// processArticle builds one complete record. Any stage failure drops the
// article from the batch; nothing partial is recorded.
func (p *Pipeline) processArticle(ctx context.Context, ref models.ArticleReference) *models.ArticleRecord {
	actx := ctx
	if p.cfg.ArticleTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.ArticleTimeout)
		defer cancel()
	}

	content, err := p.extractor.Extract(actx, ref)
	if err != nil {
		p.logger.Printf("dropping %s: %v", ref.Link, err)
		p.drop("extract")
		return nil
	}

	entities, err := facts.Entities(p.recognizer, content.Text)
	if err != nil {
		p.logger.Printf("dropping %s: entities: %v", ref.Link, err)
		p.drop("entities")
		return nil
	}

	// every speaker is paired with the article's first ORG mention for the
	// profile lookup, empty when the article names no organization
	quotes := p.attributor.Quotes(content.Text)
	org := entities.First(models.CategoryOrg)
	for i := range quotes {
		link := p.enricher.Resolve(actx, quotes[i].Speaker, org)
		quotes[i].ProfileLink = link
		if p.metrics != nil {
			outcome := "miss"
			if link != "" {
				outcome = "hit"
			}
			p.metrics.EnrichmentLookups.WithLabelValues(outcome).Inc()
		}
	}

	return &models.ArticleRecord{
		Reference:         ref,
		Content:           content,
		Entities:          entities,
		Quotes:            quotes,
		EmergingCompanies: facts.Emerging(entities, p.registry),
	}
}

func (p *Pipeline) drop(stage string) {
	if p.metrics != nil {
		p.metrics.ArticlesDropped.WithLabelValues(stage).Inc()
	}
}
