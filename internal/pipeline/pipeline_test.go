package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/medwatch/config"
	"github.com/mohammad-safakhou/medwatch/internal/facts"
	"github.com/mohammad-safakhou/medwatch/internal/snapshot"
	"github.com/mohammad-safakhou/medwatch/models"
)

const articleText = `NeoCardia announced a $40 million Series B round on Monday. ` +
	`"We are thrilled to bring continuous monitoring to more patients" said Jane Doe, chief executive of NeoCardia.`

type stubDiscoverer struct {
	refs map[string][]models.ArticleReference
}

func (s stubDiscoverer) Discover(_ context.Context, query string) ([]models.ArticleReference, error) {
	refs, ok := s.refs[query]
	if !ok {
		return nil, fmt.Errorf("no results for %q", query)
	}
	return refs, nil
}

type stubExtractor struct {
	texts   map[string]string // link -> body, missing link fails
	delay   map[string]time.Duration
	gate    chan struct{} // when set, every Extract blocks until the gate closes
	entered chan struct{} // closed when the first Extract begins
	once    sync.Once
}

func (s *stubExtractor) Extract(ctx context.Context, ref models.ArticleReference) (models.ArticleContent, error) {
	if s.entered != nil {
		s.once.Do(func() { close(s.entered) })
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return models.ArticleContent{}, ctx.Err()
		}
	}
	if d := s.delay[ref.Link]; d > 0 {
		time.Sleep(d)
	}
	text, ok := s.texts[ref.Link]
	if !ok {
		return models.ArticleContent{}, fmt.Errorf("fetch %s: boom", ref.Link)
	}
	return models.ArticleContent{Text: text, Authors: []string{}}, nil
}

type stubEnricher struct {
	links map[string]string // speaker -> profile link
}

func (s stubEnricher) Resolve(_ context.Context, speaker, _ string) string {
	return s.links[speaker]
}

type stubRecognizer struct {
	mentions []facts.Mention
}

func (s stubRecognizer) Recognize(string) ([]facts.Mention, error) { return s.mentions, nil }

func ref(link string) models.ArticleReference {
	return models.ArticleReference{
		Title:       "NeoCardia raises $40M",
		Link:        link,
		PublishedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
		Source:      "Reuters",
	}
}

func emptyRegistry(t *testing.T) *facts.Registry {
	t.Helper()
	reg, err := facts.LoadRegistry(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func testPipeline(t *testing.T, deps Deps) (*Pipeline, *snapshot.Store) {
	t.Helper()
	snapStore := snapshot.NewStore(filepath.Join(t.TempDir(), "snap.json"))
	deps.Snapshots = snapStore
	if deps.Recognizer == nil {
		deps.Recognizer = stubRecognizer{}
	}
	if deps.Attributor == nil {
		deps.Attributor = facts.NewRegexAttributor()
	}
	if deps.Registry == nil {
		deps.Registry = emptyRegistry(t)
	}
	if deps.Enricher == nil {
		deps.Enricher = stubEnricher{}
	}
	deps.Logger = log.New(io.Discard, "", 0)
	cfg := config.IngestConfig{
		Queries:        []string{"MedTech"},
		MaxWorkers:     3,
		ArticleTimeout: 5 * time.Second,
	}
	return New(cfg, deps), snapStore
}

func TestRunBuildsEnrichedRecords(t *testing.T) {
	good := ref("https://example.com/neocardia")
	bad := ref("https://example.com/broken")
	p, snapStore := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{
			"MedTech": {good, bad},
		}},
		Extractor: &stubExtractor{texts: map[string]string{good.Link: articleText}},
		Enricher:  stubEnricher{links: map[string]string{"Jane Doe": "https://linkedin.com/in/jane-doe"}},
		Recognizer: stubRecognizer{mentions: []facts.Mention{
			{Text: "Jane Doe", Label: "PERSON"},
			{Text: "NeoCardia", Label: "ORG"},
			{Text: "$40 million", Label: "MONEY"},
		}},
	})

	snap, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("want 1 record (failed article dropped), got %d", len(snap.Records))
	}

	rec := snap.Records[0]
	if rec.Reference.Link != good.Link {
		t.Fatalf("record link = %q", rec.Reference.Link)
	}
	if got := rec.Entities[models.CategoryPerson]; len(got) != 1 || got[0] != "Jane Doe" {
		t.Fatalf("persons = %v", got)
	}
	if len(rec.Quotes) != 1 {
		t.Fatalf("quotes = %+v", rec.Quotes)
	}
	if rec.Quotes[0].Speaker != "Jane Doe" {
		t.Fatalf("speaker = %q", rec.Quotes[0].Speaker)
	}
	if rec.Quotes[0].ProfileLink != "https://linkedin.com/in/jane-doe" {
		t.Fatalf("profile link = %q", rec.Quotes[0].ProfileLink)
	}
	if len(rec.EmergingCompanies) != 1 || rec.EmergingCompanies[0] != "NeoCardia" {
		t.Fatalf("emerging = %v", rec.EmergingCompanies)
	}

	persisted, err := snapStore.Load()
	if err != nil {
		t.Fatalf("load persisted snapshot: %v", err)
	}
	if len(persisted.Records) != 1 || persisted.Records[0].Reference.Link != good.Link {
		t.Fatalf("persisted snapshot differs: %+v", persisted.Records)
	}
}

func TestRunDeduplicatesAcrossQueries(t *testing.T) {
	shared := ref("https://example.com/shared")
	p, _ := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{
			"MedTech":         {shared},
			"medical devices": {shared},
		}},
		Extractor: &stubExtractor{texts: map[string]string{shared.Link: articleText}},
	})
	p.cfg.Queries = []string{"MedTech", "medical devices"}

	snap, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("duplicate link should appear once, got %d records", len(snap.Records))
	}
}

func TestRunKeepsDiscoveryOrderUnderConcurrency(t *testing.T) {
	links := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	refs := make([]models.ArticleReference, len(links))
	texts := map[string]string{}
	delay := map[string]time.Duration{}
	for i, link := range links {
		refs[i] = ref(link)
		texts[link] = articleText
		// later articles finish first
		delay[link] = time.Duration(len(links)-i) * 20 * time.Millisecond
	}
	p, _ := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{"MedTech": refs}},
		Extractor:  &stubExtractor{texts: texts, delay: delay},
	})

	snap, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(snap.Records) != len(links) {
		t.Fatalf("got %d records", len(snap.Records))
	}
	for i, rec := range snap.Records {
		if rec.Reference.Link != links[i] {
			t.Fatalf("record %d = %q, want %q", i, rec.Reference.Link, links[i])
		}
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	only := ref("https://example.com/slow")
	p, _ := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{"MedTech": {only}}},
		Extractor:  &stubExtractor{texts: map[string]string{only.Link: articleText}, gate: gate, entered: entered},
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		firstErr <- err
	}()
	<-entered

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlap error = %v, want ErrRunInProgress", err)
	}

	close(gate)
	if err := <-firstErr; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestRunCancelledKeepsPreviousSnapshot(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	slow := ref("https://example.com/slow")
	p, snapStore := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{"MedTech": {slow}}},
		Extractor:  &stubExtractor{texts: map[string]string{slow.Link: articleText}, gate: gate, entered: entered},
	})

	previous := models.Snapshot{
		GeneratedAt: time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC),
		Records: []models.ArticleRecord{{
			Reference: ref("https://example.com/last-good"),
			Content:   models.ArticleContent{Text: "last good article", Authors: []string{}},
			Entities:  models.NewEntitySet(),
			Quotes:    []models.Quote{},
			EmergingCompanies: []string{},
		}},
	}
	if err := snapStore.Save(previous); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		runErr <- err
	}()
	<-entered
	cancel()

	err := <-runErr
	if err == nil {
		t.Fatal("cancelled run must not report success")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run error = %v, want context.Canceled", err)
	}

	got, loadErr := snapStore.Load()
	if loadErr != nil {
		t.Fatalf("load snapshot: %v", loadErr)
	}
	if !got.GeneratedAt.Equal(previous.GeneratedAt) {
		t.Fatalf("generated_at = %v, want untouched %v", got.GeneratedAt, previous.GeneratedAt)
	}
	if len(got.Records) != 1 || got.Records[0].Reference.Link != "https://example.com/last-good" {
		t.Fatalf("previous snapshot was replaced: %+v", got.Records)
	}
}

func TestRunFailsWhenSnapshotCannotPersist(t *testing.T) {
	only := ref("https://example.com/a")
	p, _ := testPipeline(t, Deps{
		Discoverer: stubDiscoverer{refs: map[string][]models.ArticleReference{"MedTech": {only}}},
		Extractor:  &stubExtractor{texts: map[string]string{only.Link: articleText}},
	})
	// point persistence at a directory that cannot be created
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p.snapshots = snapshot.NewStore(filepath.Join(blocker, "sub", "snap.json"))

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected persistence failure to fail the run")
	}

	// the lock must be free again after a failed run
	p.snapshots = snapshot.NewStore(filepath.Join(t.TempDir(), "snap.json"))
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("run after failure: %v", err)
	}
}
