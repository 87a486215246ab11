package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"nallo/api/internal/app"
	"nallo/api/internal/graph"
	"nallo/api/internal/logger"
)

// Target is the part of the document service the seeder writes through.
type Target interface {
	CreateEntity(ctx context.Context, kind string, input app.EntityInput) (graph.Entity, error)
	Create(ctx context.Context, input app.CreateDocumentInput) (app.Document, error)
	LinkNodes(ctx context.Context, link graph.Link) error
}

type Options struct {
	Workers int
	DryRun  bool
	// OnDocument is called once per created document. Calls are serialized.
	OnDocument func(app.Document)
}

// Report counts successful writes, or planned writes for a dry run.
type Report struct {
	Entities  int `json:"entities"`
	Documents int `json:"documents"`
	Links     int `json:"links"`
}

type loader struct {
	target     Target
	pool       *ants.Pool
	onDocument func(app.Document)

	mu   sync.Mutex
	ids  map[nodeKey]string
	errs []error
}

// Run creates entities, then documents, then links. Entities and documents
// are written concurrently; links run in fixture order because a later
// BELONGS_TO a Version replaces an earlier one. Failures do not stop the
// load; they are joined into the returned error.
func Run(ctx context.Context, target Target, fixture Fixture, opts Options) (Report, error) {
	if err := fixture.Validate(); err != nil {
		return Report{}, err
	}
	if opts.DryRun {
		return fixture.Count(), nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return Report{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	l := &loader{target: target, pool: pool, onDocument: opts.OnDocument, ids: map[nodeKey]string{}}
	var report Report

	var entityJobs []func() bool
	for _, group := range fixture.entityGroups() {
		for _, item := range group.items {
			entityJobs = append(entityJobs, func() bool { return l.createEntity(ctx, group.kind, item) })
		}
	}
	report.Entities = l.runAll(ctx, entityJobs)
	logger.Sugar.Infow("seeded entities", "count", report.Entities)

	docJobs := make([]func() bool, 0, len(fixture.Documents))
	for _, doc := range fixture.Documents {
		docJobs = append(docJobs, func() bool { return l.createDocument(ctx, doc) })
	}
	report.Documents = l.runAll(ctx, docJobs)
	logger.Sugar.Infow("seeded documents", "count", report.Documents)

	for i, link := range fixture.Links {
		if ctx.Err() != nil {
			l.fail(ctx.Err())
			break
		}
		if l.createLink(ctx, i, link) {
			report.Links++
		}
	}
	logger.Sugar.Infow("seeded links", "count", report.Links)

	return report, errors.Join(l.errs...)
}

// runAll submits jobs to the pool and returns how many succeeded.
func (l *loader) runAll(ctx context.Context, jobs []func() bool) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, job := range jobs {
		if ctx.Err() != nil {
			l.fail(ctx.Err())
			break
		}
		wg.Add(1)
		err := l.pool.Submit(func() {
			defer wg.Done()
			if job() {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			l.fail(fmt.Errorf("submit seed job: %w", err))
		}
	}
	wg.Wait()
	return ok
}

func (l *loader) createEntity(ctx context.Context, kind graph.Kind, item EntityFixture) bool {
	entity, err := l.target.CreateEntity(ctx, string(kind), item.EntityInput)
	if err != nil {
		l.fail(fmt.Errorf("%s %q: %w", strings.ToLower(string(kind)), item.Key, err))
		return false
	}
	l.remember(nodeKey{kind: kind, key: item.Key}, entity.ID)
	return true
}

func (l *loader) createDocument(ctx context.Context, doc DocumentFixture) bool {
	input := doc.CreateDocumentInput
	if doc.Version != "" {
		versionID, ok := l.lookup(nodeKey{kind: graph.KindVersion, key: doc.Version})
		if !ok {
			l.fail(fmt.Errorf("document %q: version %q was not created", doc.Key, doc.Version))
			return false
		}
		input.VersionID = versionID
	}
	created, err := l.target.Create(ctx, input)
	if err != nil {
		l.fail(fmt.Errorf("document %q: %w", doc.Key, err))
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[nodeKey{kind: graph.KindDocument, key: doc.Key}] = created.ID
	if l.onDocument != nil {
		l.onDocument(created)
	}
	return true
}

func (l *loader) createLink(ctx context.Context, index int, link LinkFixture) bool {
	from, _ := parseRef(link.From)
	to, _ := parseRef(link.To)
	rel, _ := graph.ParseRelation(link.Rel)

	fromID, ok := l.lookup(from)
	if !ok {
		l.fail(fmt.Errorf("link %d: %s was not created", index, link.From))
		return false
	}
	toID, ok := l.lookup(to)
	if !ok {
		l.fail(fmt.Errorf("link %d: %s was not created", index, link.To))
		return false
	}
	err := l.target.LinkNodes(ctx, graph.Link{
		From: graph.NodeRef{Kind: from.kind, ID: fromID},
		Rel:  rel,
		To:   graph.NodeRef{Kind: to.kind, ID: toID},
	})
	if err != nil {
		l.fail(fmt.Errorf("link %d %s %s %s: %w", index, link.From, rel, link.To, err))
		return false
	}
	return true
}

func (l *loader) remember(key nodeKey, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[key] = id
}

func (l *loader) lookup(key nodeKey) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.ids[key]
	return id, ok
}

func (l *loader) fail(err error) {
	logger.Sugar.Warnw("seed write failed", "error", err)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}
