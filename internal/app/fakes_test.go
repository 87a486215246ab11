package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nallo/api/internal/config"
	"nallo/api/internal/graph"
	"nallo/api/internal/search"
	"nallo/api/internal/store"
)

var testNow = time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

var testSecret = []byte("test-secret")

func testConfig() config.Config {
	return config.Config{CacheTTL: time.Minute, StoragePresignTTL: 15 * time.Minute, HealthTimeout: time.Second}
}

// fakeGraph keeps documents and entities in maps. The xxxFn fields override
// the map behaviour for a single test.
type fakeGraph struct {
	mu        sync.Mutex
	documents map[string]graph.Document
	entities  map[string]graph.Entity
	links     []graph.Link

	createDocumentFn func(context.Context, graph.Document) (graph.Document, error)
	updateDocumentFn func(context.Context, string, graph.DocumentPatch) (graph.Document, error)
	deleteDocumentFn func(context.Context, string) error
	pingFn           func(context.Context) error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{documents: map[string]graph.Document{}, entities: map[string]graph.Entity{}}
}

func (f *fakeGraph) CreateDocument(ctx context.Context, doc graph.Document) (graph.Document, error) {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, doc)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entities[string(graph.KindVersion)+"/"+doc.VersionID]; !ok {
		doc.VersionID = ""
	}
	doc.CreatedAt, doc.UpdatedAt = testNow, testNow
	f.documents[doc.ID] = doc
	return doc, nil
}

func (f *fakeGraph) GetDocument(_ context.Context, id string) (graph.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return graph.Document{}, fmt.Errorf("document %s: %w", id, graph.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeGraph) ListDocuments(_ context.Context, filter graph.DocumentFilter) ([]graph.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []graph.Document{}
	for _, doc := range f.documents {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		items = append(items, doc)
	}
	return items, nil
}

func (f *fakeGraph) UpdateDocument(ctx context.Context, id string, patch graph.DocumentPatch) (graph.Document, error) {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, id, patch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return graph.Document{}, graph.ErrNotFound
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Status != nil {
		doc.Status = *patch.Status
	}
	if patch.Author != nil {
		doc.Author = *patch.Author
	}
	if patch.VersionID != nil {
		doc.VersionID = *patch.VersionID
	}
	doc.UpdatedAt = testNow.Add(time.Minute)
	f.documents[id] = doc
	return doc, nil
}

func (f *fakeGraph) DeleteDocument(ctx context.Context, id string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok {
		return graph.ErrNotFound
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeGraph) CreateEntity(_ context.Context, kind graph.Kind, entity graph.Entity) (graph.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + "/" + entity.ID
	if _, ok := f.entities[key]; ok {
		return graph.Entity{}, graph.ErrDuplicate
	}
	entity.Kind = kind
	entity.CreatedAt = testNow
	f.entities[key] = entity
	return entity, nil
}

func (f *fakeGraph) GetEntity(_ context.Context, kind graph.Kind, id string) (graph.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entity, ok := f.entities[string(kind)+"/"+id]
	if !ok {
		return graph.Entity{}, graph.ErrNotFound
	}
	return entity, nil
}

func (f *fakeGraph) ListEntities(_ context.Context, kind graph.Kind, _ int) ([]graph.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []graph.Entity{}
	for _, entity := range f.entities {
		if entity.Kind == kind {
			items = append(items, entity)
		}
	}
	return items, nil
}

func (f *fakeGraph) Link(_ context.Context, link graph.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists(link.From) || !f.exists(link.To) {
		return graph.ErrNotFound
	}
	if isVersionPointer(link) {
		kept := f.links[:0]
		for _, existing := range f.links {
			if !(isVersionPointer(existing) && existing.From == link.From) {
				kept = append(kept, existing)
			}
		}
		f.links = kept
		doc := f.documents[link.From.ID]
		doc.VersionID = link.To.ID
		f.documents[link.From.ID] = doc
	}
	f.links = append(f.links, link)
	return nil
}

func (f *fakeGraph) Unlink(_ context.Context, link graph.Link) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.links {
		if existing == link {
			f.links = append(f.links[:i], f.links[i+1:]...)
			if doc, ok := f.documents[link.From.ID]; ok && isVersionPointer(link) {
				doc.VersionID = ""
				f.documents[link.From.ID] = doc
			}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGraph) Related(_ context.Context, documentID string) ([]graph.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[documentID]; !ok {
		return nil, graph.ErrNotFound
	}
	edges := []graph.Edge{}
	for _, link := range f.links {
		if link.From.ID == documentID {
			edges = append(edges, graph.Edge{Rel: link.Rel, Direction: graph.DirectionOut, Node: link.To})
		}
	}
	return edges, nil
}

func (f *fakeGraph) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeGraph) exists(ref graph.NodeRef) bool {
	if ref.Kind == graph.KindDocument {
		_, ok := f.documents[ref.ID]
		return ok
	}
	_, ok := f.entities[string(ref.Kind)+"/"+ref.ID]
	return ok
}

type fakeContent struct {
	mu   sync.Mutex
	rows map[string]store.DocumentContent

	createFn func(context.Context, string, string) (store.DocumentContent, error)
	getFn    func(context.Context, string) (store.DocumentContent, error)
	deleteFn func(context.Context, string) (bool, error)
	pingFn   func(context.Context) error
}

func newFakeContent() *fakeContent {
	return &fakeContent{rows: map[string]store.DocumentContent{}}
}

func (f *fakeContent) CreateDocumentContent(ctx context.Context, documentID, content string) (store.DocumentContent, error) {
	if f.createFn != nil {
		return f.createFn(ctx, documentID, content)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[documentID]; ok {
		return store.DocumentContent{}, store.ErrContentExists
	}
	row := store.DocumentContent{
		ID:         "dc_" + documentID,
		DocumentID: documentID,
		Content:    content,
		StorageKey: store.StorageKey(documentID),
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	f.rows[documentID] = row
	return row, nil
}

func (f *fakeContent) GetDocumentContent(ctx context.Context, documentID string) (store.DocumentContent, error) {
	if f.getFn != nil {
		return f.getFn(ctx, documentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[documentID]
	if !ok {
		return store.DocumentContent{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeContent) UpdateDocumentContent(_ context.Context, documentID, content string) (store.DocumentContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[documentID]
	if !ok {
		return store.DocumentContent{}, sql.ErrNoRows
	}
	row.Content = content
	row.UpdatedAt = row.UpdatedAt.Add(time.Minute)
	f.rows[documentID] = row
	return row, nil
}

func (f *fakeContent) DeleteDocumentContent(ctx context.Context, documentID string) (bool, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[documentID]
	delete(f.rows, documentID)
	return ok, nil
}

func (f *fakeContent) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]string
	putErr  error
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string]string{}}
}

func (f *fakeBlobs) PutText(_ context.Context, objectName, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[objectName] = content
	return nil
}

func (f *fakeBlobs) Delete(_ context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	f.deleted = append(f.deleted, objectName)
	return nil
}

func (f *fakeBlobs) PresignGet(_ context.Context, objectName string, ttl time.Duration) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("http://storage.local/nallo-documents/%s?X-Amz-Expires=%d", objectName, int(ttl.Seconds())))
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.DocumentRecord
	deleted []string
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: "doc_1", Title: "Intro"}}, Total: 1, Query: q.Text, Source: search.SourcePostgres}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc)
}

func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

// fakeCache stores JSON-free copies; enough to observe hits and invalidation.
type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]Document
	counters map[string]int64
	deletes  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]Document{}, counters: map[string]int64{}}
}

func (f *fakeCache) Counter(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[key], nil
}

func (f *fakeCache) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	*(dst.(*Document)) = doc
	return true, nil
}

func (f *fakeCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value.(Document)
	return nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.entries, key)
		f.deletes = append(f.deletes, key)
	}
	return nil
}

type testDeps struct {
	graph   *fakeGraph
	content *fakeContent
	blobs   *fakeBlobs
	search  *fakeSearch
	cache   *fakeCache
}

func newTestService() (*Service, *testDeps) {
	deps := &testDeps{
		graph:   newFakeGraph(),
		content: newFakeContent(),
		blobs:   newFakeBlobs(),
		search:  &fakeSearch{},
		cache:   newFakeCache(),
	}
	svc := New(testConfig(), Dependencies{
		Graph:   deps.graph,
		Content: deps.content,
		Blobs:   deps.blobs,
		Search:  deps.search,
		Cache:   deps.cache,
	})
	seq := 0
	svc.newID = func(prefix string) string {
		seq++
		return fmt.Sprintf("%s_%d", prefix, seq)
	}
	svc.now = func() time.Time { return testNow }
	return svc, deps
}

func strPtr(value string) *string {
	return &value
}
