package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"nallo/api/internal/config"
	"nallo/api/internal/graph"
	"nallo/api/internal/logger"
	"nallo/api/internal/search"
	"nallo/api/internal/store"
	"nallo/api/internal/util"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

var allowedStatuses = map[string]struct{}{
	StatusDraft:     {},
	StatusPublished: {},
	StatusArchived:  {},
}

var entityIDPrefix = map[graph.Kind]string{
	graph.KindConcept: "con",
	graph.KindTag:     "tag",
	graph.KindVersion: "ver",
	graph.KindPage:    "pg",
}

// Document is a document as the API returns it: graph metadata joined with
// its relational content row.
type Document struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	Author           string     `json:"author"`
	VersionID        string     `json:"versionId,omitempty"`
	Content          string     `json:"content"`
	ContentID        string     `json:"contentId,omitempty"`
	StorageKey       string     `json:"storageKey"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ContentUpdatedAt *time.Time `json:"contentUpdatedAt,omitempty"`
}

type CreateDocumentInput struct {
	Title     string  `json:"title" yaml:"title"`
	Status    string  `json:"status" yaml:"status"`
	Author    string  `json:"author" yaml:"author"`
	VersionID string  `json:"versionId" yaml:"versionId"`
	Content   *string `json:"content" yaml:"content"`
}

// UpdateDocumentInput holds optional changes. A nil field is left alone; an
// empty VersionID clears the version pointer.
type UpdateDocumentInput struct {
	Title     *string `json:"title"`
	Status    *string `json:"status"`
	Author    *string `json:"author"`
	VersionID *string `json:"versionId"`
	Content   *string `json:"content"`
}

type EntityInput struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Slug        string `json:"slug" yaml:"slug"`
}

type LinkInput struct {
	Rel    string `json:"rel"`
	ToKind string `json:"toKind"`
	ToID   string `json:"toId"`
}

type ContentURL struct {
	URL        string    `json:"url"`
	StorageKey string    `json:"storageKey"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// MetadataStore is the graph side of a document.
type MetadataStore interface {
	CreateDocument(ctx context.Context, doc graph.Document) (graph.Document, error)
	GetDocument(ctx context.Context, id string) (graph.Document, error)
	ListDocuments(ctx context.Context, filter graph.DocumentFilter) ([]graph.Document, error)
	UpdateDocument(ctx context.Context, id string, patch graph.DocumentPatch) (graph.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	CreateEntity(ctx context.Context, kind graph.Kind, entity graph.Entity) (graph.Entity, error)
	GetEntity(ctx context.Context, kind graph.Kind, id string) (graph.Entity, error)
	ListEntities(ctx context.Context, kind graph.Kind, limit int) ([]graph.Entity, error)
	Link(ctx context.Context, link graph.Link) error
	Unlink(ctx context.Context, link graph.Link) (bool, error)
	Related(ctx context.Context, documentID string) ([]graph.Edge, error)
	Ping(ctx context.Context) error
}

// ContentStore is the relational side of a document.
type ContentStore interface {
	CreateDocumentContent(ctx context.Context, documentID, content string) (store.DocumentContent, error)
	GetDocumentContent(ctx context.Context, documentID string) (store.DocumentContent, error)
	UpdateDocumentContent(ctx context.Context, documentID, content string) (store.DocumentContent, error)
	DeleteDocumentContent(ctx context.Context, documentID string) (bool, error)
	Ping(ctx context.Context) error
}

type BlobStore interface {
	PutText(ctx context.Context, objectName, content string) error
	Delete(ctx context.Context, objectName string) error
	PresignGet(ctx context.Context, objectName string, ttl time.Duration) (*url.URL, error)
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type DocumentCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Counter(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// Dependencies wires the service. Graph and Content are required; leave the
// others nil to run without them.
type Dependencies struct {
	Graph   MetadataStore
	Content ContentStore
	Blobs   BlobStore
	Search  SearchIndex
	Cache   DocumentCache
}

type Service struct {
	cfg     config.Config
	graph   MetadataStore
	content ContentStore
	blobs   BlobStore
	search  SearchIndex
	cache   DocumentCache
	newID   func(prefix string) string
	now     func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:     cfg,
		graph:   deps.Graph,
		content: deps.Content,
		blobs:   deps.Blobs,
		search:  deps.Search,
		cache:   deps.Cache,
		newID:   util.NewID,
		now:     time.Now,
	}
}

// Create writes metadata to the graph, then content to PostgreSQL, then the
// blob mirror. There is no rollback; a failure after the graph write is
// reported as a partial write naming the stores that hold the document.
func (s *Service) Create(ctx context.Context, input CreateDocumentInput) (Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Document{}, validation("title is required", map[string]string{"field": "title"})
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return Document{}, err
	}
	versionID := strings.TrimSpace(input.VersionID)
	if err := s.requireVersion(ctx, versionID); err != nil {
		return Document{}, err
	}

	meta, err := s.graph.CreateDocument(ctx, graph.Document{
		ID:        s.newID("doc"),
		Title:     title,
		Status:    status,
		Author:    strings.TrimSpace(input.Author),
		VersionID: versionID,
	})
	if err != nil {
		return Document{}, fmt.Errorf("create document metadata: %w", err)
	}
	completed := []string{storeGraph}

	var row *store.DocumentContent
	if input.Content != nil {
		created, err := s.content.CreateDocumentContent(ctx, meta.ID, *input.Content)
		if err != nil {
			return Document{}, partialWrite(meta.ID, completed, storePostgres, err)
		}
		row = &created
		completed = append(completed, storePostgres)

		if err := s.mirror(ctx, meta.ID, *input.Content); err != nil {
			return Document{}, partialWrite(meta.ID, completed, storeObjects, err)
		}
	}

	doc := assemble(meta, row)
	s.index(doc)
	return doc, nil
}

// Get joins the graph node and the content row, read concurrently. A
// document without a row has empty content. A missing graph node wins over
// any content error.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	var cached Document
	slot, hit := s.cacheGet(ctx, id, &cached)
	if hit {
		return cached, nil
	}

	var (
		meta            graph.Document
		row             *store.DocumentContent
		metaErr, rowErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		meta, metaErr = s.graph.GetDocument(ctx, id)
		return nil
	})
	g.Go(func() error {
		found, err := s.content.GetDocumentContent(ctx, id)
		switch {
		case err == nil:
			row = &found
		case !errors.Is(err, sql.ErrNoRows):
			rowErr = fmt.Errorf("get document content: %w", err)
		}
		return nil
	})
	_ = g.Wait()

	if errors.Is(metaErr, graph.ErrNotFound) {
		return Document{}, notFound("Document not found")
	}
	if metaErr != nil {
		return Document{}, fmt.Errorf("get document metadata: %w", metaErr)
	}
	if rowErr != nil {
		return Document{}, rowErr
	}

	doc := assemble(meta, row)
	s.cacheSet(ctx, slot, doc)
	return doc, nil
}

func (s *Service) List(ctx context.Context, filter graph.DocumentFilter) ([]graph.Document, error) {
	if filter.Status != "" {
		if _, ok := allowedStatuses[filter.Status]; !ok {
			return nil, validation("status must be one of draft, published or archived", map[string]string{"field": "status"})
		}
	}
	items, err := s.graph.ListDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return items, nil
}

// Update applies metadata changes to the graph and content changes to the
// content row, creating the row when the document had none.
func (s *Service) Update(ctx context.Context, id string, input UpdateDocumentInput) (Document, error) {
	patch, err := s.buildPatch(ctx, input)
	if err != nil {
		return Document{}, err
	}

	var (
		meta      graph.Document
		completed []string
	)
	if patch.Empty() {
		meta, err = s.graph.GetDocument(ctx, id)
	} else {
		meta, err = s.graph.UpdateDocument(ctx, id, patch)
		if err == nil {
			completed = append(completed, storeGraph)
		}
	}
	if errors.Is(err, graph.ErrNotFound) {
		return Document{}, notFound("Document not found")
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document metadata: %w", err)
	}
	// Any later failure leaves the graph change in place.
	defer s.invalidate(ctx, id)

	var row *store.DocumentContent
	if input.Content != nil {
		saved, err := s.upsertContent(ctx, id, *input.Content)
		if err != nil {
			if len(completed) == 0 {
				return Document{}, fmt.Errorf("update document content: %w", err)
			}
			return Document{}, partialWrite(id, completed, storePostgres, err)
		}
		row = &saved
		completed = append(completed, storePostgres)

		if err := s.mirror(ctx, id, *input.Content); err != nil {
			return Document{}, partialWrite(id, completed, storeObjects, err)
		}
	} else {
		existing, err := s.content.GetDocumentContent(ctx, id)
		switch {
		case err == nil:
			row = &existing
		case !errors.Is(err, sql.ErrNoRows):
			return Document{}, fmt.Errorf("get document content: %w", err)
		}
	}

	doc := assemble(meta, row)
	s.index(doc)
	return doc, nil
}

// Delete removes content first and the graph node last, so a failure part
// way through leaves the document listed and the delete retryable.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.graph.GetDocument(ctx, id); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return notFound("Document not found")
		}
		return fmt.Errorf("get document: %w", err)
	}
	defer s.invalidate(ctx, id)

	if _, err := s.content.DeleteDocumentContent(ctx, id); err != nil {
		return fmt.Errorf("delete document content: %w", err)
	}
	completed := []string{storePostgres}

	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, store.StorageKey(id)); err != nil {
			return partialWrite(id, completed, storeObjects, err)
		}
		completed = append(completed, storeObjects)
	}

	if err := s.graph.DeleteDocument(ctx, id); err != nil && !errors.Is(err, graph.ErrNotFound) {
		return partialWrite(id, completed, storeGraph, err)
	}
	if s.search != nil {
		s.search.DeleteDocument(id)
	}
	return nil
}

// DeleteContent drops the content row and blob. Deleting content that is
// already gone succeeds.
func (s *Service) DeleteContent(ctx context.Context, id string) error {
	defer s.invalidate(ctx, id)

	removed, err := s.content.DeleteDocumentContent(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document content: %w", err)
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, store.StorageKey(id)); err != nil {
			return partialWrite(id, []string{storePostgres}, storeObjects, err)
		}
	}
	if removed {
		if meta, err := s.graph.GetDocument(ctx, id); err == nil {
			s.index(assemble(meta, nil))
		}
	}
	return nil
}

// ContentURL presigns a download link for the document's content blob.
func (s *Service) ContentURL(ctx context.Context, id string) (ContentURL, error) {
	if s.blobs == nil {
		return ContentURL{}, unavailable("Object storage is not configured")
	}
	if _, err := s.content.GetDocumentContent(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ContentURL{}, notFound("Document has no content")
		}
		return ContentURL{}, fmt.Errorf("get document content: %w", err)
	}
	ttl := s.cfg.StoragePresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	key := store.StorageKey(id)
	signed, err := s.blobs.PresignGet(ctx, key, ttl)
	if err != nil {
		return ContentURL{}, fmt.Errorf("presign content: %w", err)
	}
	return ContentURL{URL: signed.String(), StorageKey: key, ExpiresAt: s.now().Add(ttl).UTC()}, nil
}

func (s *Service) Search(ctx context.Context, text, status string, limit int) search.Response {
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Status: status, Limit: limit})
}

func (s *Service) CreateEntity(ctx context.Context, kind string, input EntityInput) (graph.Entity, error) {
	parsed, err := entityKind(kind)
	if err != nil {
		return graph.Entity{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return graph.Entity{}, validation("name is required", map[string]string{"field": "name"})
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" && (parsed == graph.KindPage || parsed == graph.KindTag) {
		slug = slugify(name)
	}
	entity, err := s.graph.CreateEntity(ctx, parsed, graph.Entity{
		ID:          s.newID(entityIDPrefix[parsed]),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Slug:        slug,
	})
	if err != nil {
		if errors.Is(err, graph.ErrDuplicate) {
			return graph.Entity{}, conflict(fmt.Sprintf("%s already exists", parsed))
		}
		return graph.Entity{}, fmt.Errorf("create %s: %w", strings.ToLower(string(parsed)), err)
	}
	return entity, nil
}

func (s *Service) GetEntity(ctx context.Context, kind, id string) (graph.Entity, error) {
	parsed, err := entityKind(kind)
	if err != nil {
		return graph.Entity{}, err
	}
	entity, err := s.graph.GetEntity(ctx, parsed, id)
	if errors.Is(err, graph.ErrNotFound) {
		return graph.Entity{}, notFound(fmt.Sprintf("%s not found", parsed))
	}
	return entity, err
}

func (s *Service) ListEntities(ctx context.Context, kind string, limit int) ([]graph.Entity, error) {
	parsed, err := entityKind(kind)
	if err != nil {
		return nil, err
	}
	return s.graph.ListEntities(ctx, parsed, limit)
}

// Link adds an edge from a document. BELONGS_TO a Version replaces the
// document's version pointer.
func (s *Service) Link(ctx context.Context, documentID string, input LinkInput) error {
	link, err := documentLink(documentID, input)
	if err != nil {
		return err
	}
	return s.LinkNodes(ctx, link)
}

func (s *Service) Unlink(ctx context.Context, documentID string, input LinkInput) error {
	link, err := documentLink(documentID, input)
	if err != nil {
		return err
	}
	if err := link.Validate(); err != nil {
		return linkValidation(err, link)
	}
	removed, err := s.graph.Unlink(ctx, link)
	if err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	s.invalidate(ctx, documentID)
	if removed && isVersionPointer(link) {
		s.reindex(ctx, documentID)
	}
	return nil
}

// LinkNodes adds an edge between any two nodes the relationship rules allow.
func (s *Service) LinkNodes(ctx context.Context, link graph.Link) error {
	if err := link.Validate(); err != nil {
		return linkValidation(err, link)
	}
	if err := s.graph.Link(ctx, link); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return notFound("Link endpoint not found")
		}
		return fmt.Errorf("link: %w", err)
	}
	if link.From.Kind == graph.KindDocument {
		s.invalidate(ctx, link.From.ID)
	}
	if isVersionPointer(link) {
		s.reindex(ctx, link.From.ID)
	}
	return nil
}

// isVersionPointer reports whether link sets a document's versionId.
func isVersionPointer(link graph.Link) bool {
	return link.Rel == graph.RelBelongsTo && link.From.Kind == graph.KindDocument && link.To.Kind == graph.KindVersion
}

func (s *Service) Related(ctx context.Context, documentID string) ([]graph.Edge, error) {
	edges, err := s.graph.Related(ctx, documentID)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("related: %w", err)
	}
	return edges, nil
}

func (s *Service) buildPatch(ctx context.Context, input UpdateDocumentInput) (graph.DocumentPatch, error) {
	patch := graph.DocumentPatch{Author: trimmed(input.Author)}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return graph.DocumentPatch{}, validation("title cannot be empty", map[string]string{"field": "title"})
		}
		patch.Title = &title
	}
	if input.Status != nil {
		status, err := normalizeStatus(*input.Status)
		if err != nil {
			return graph.DocumentPatch{}, err
		}
		patch.Status = &status
	}
	if input.VersionID != nil {
		versionID := strings.TrimSpace(*input.VersionID)
		if err := s.requireVersion(ctx, versionID); err != nil {
			return graph.DocumentPatch{}, err
		}
		patch.VersionID = &versionID
	}
	return patch, nil
}

func (s *Service) requireVersion(ctx context.Context, versionID string) error {
	if versionID == "" {
		return nil
	}
	if _, err := s.graph.GetEntity(ctx, graph.KindVersion, versionID); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return validation("versionId does not name a version", map[string]string{"field": "versionId"})
		}
		return fmt.Errorf("get version: %w", err)
	}
	return nil
}

func (s *Service) upsertContent(ctx context.Context, id, content string) (store.DocumentContent, error) {
	row, err := s.content.UpdateDocumentContent(ctx, id, content)
	if !errors.Is(err, sql.ErrNoRows) {
		return row, err
	}
	row, err = s.content.CreateDocumentContent(ctx, id, content)
	if errors.Is(err, store.ErrContentExists) {
		// Lost a race with a concurrent create.
		return s.content.UpdateDocumentContent(ctx, id, content)
	}
	return row, err
}

func (s *Service) mirror(ctx context.Context, id, content string) error {
	if s.blobs == nil {
		return nil
	}
	return s.blobs.PutText(ctx, store.StorageKey(id), content)
}

func (s *Service) index(doc Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Status:    doc.Status,
		Author:    doc.Author,
		VersionID: doc.VersionID,
	})
}

// reindex pushes the current state of a document to the search index.
func (s *Service) reindex(ctx context.Context, id string) {
	if s.search == nil {
		return
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		logger.Sugar.Warnw("document reindex failed", "document_id", id, "error", err)
		return
	}
	s.index(doc)
}

// Cached documents live under a per-document generation. Invalidation bumps
// the generation, so a read that began before a write stores its snapshot
// under a key that later reads no longer look up.
func generationKey(id string) string {
	return "document:" + id + ":gen"
}

func cacheKey(id string, generation int64) string {
	return fmt.Sprintf("document:%s:%d", id, generation)
}

type cacheSlot struct {
	id         string
	generation int64
	ok         bool
}

func (s *Service) cacheGet(ctx context.Context, id string, dst *Document) (cacheSlot, bool) {
	if s.cache == nil {
		return cacheSlot{}, false
	}
	generation, err := s.cache.Counter(ctx, generationKey(id))
	if err != nil {
		logger.Sugar.Warnw("document cache read failed", "document_id", id, "error", err)
		return cacheSlot{}, false
	}
	slot := cacheSlot{id: id, generation: generation, ok: true}
	hit, err := s.cache.GetJSON(ctx, cacheKey(id, generation), dst)
	if err != nil {
		logger.Sugar.Warnw("document cache read failed", "document_id", id, "error", err)
		return slot, false
	}
	return slot, hit
}

func (s *Service) cacheSet(ctx context.Context, slot cacheSlot, doc Document) {
	if !slot.ok {
		return
	}
	if err := s.cache.SetJSON(ctx, cacheKey(slot.id, slot.generation), doc, s.cfg.CacheTTL); err != nil {
		logger.Sugar.Warnw("document cache write failed", "document_id", doc.ID, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	generation, err := s.cache.Incr(ctx, generationKey(id))
	if err != nil {
		logger.Sugar.Warnw("document cache invalidation failed", "document_id", id, "error", err)
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(id, generation-1)); err != nil {
		logger.Sugar.Warnw("document cache invalidation failed", "document_id", id, "error", err)
	}
}

func assemble(meta graph.Document, row *store.DocumentContent) Document {
	doc := Document{
		ID:         meta.ID,
		Title:      meta.Title,
		Status:     meta.Status,
		Author:     meta.Author,
		VersionID:  meta.VersionID,
		StorageKey: store.StorageKey(meta.ID),
		CreatedAt:  meta.CreatedAt,
		UpdatedAt:  meta.UpdatedAt,
	}
	if row != nil {
		updated := row.UpdatedAt
		doc.Content = row.Content
		doc.ContentID = row.ID
		doc.ContentUpdatedAt = &updated
	}
	return doc
}

func normalizeStatus(value string) (string, error) {
	status := strings.ToLower(strings.TrimSpace(value))
	if status == "" {
		return StatusDraft, nil
	}
	if _, ok := allowedStatuses[status]; !ok {
		return "", validation("status must be one of draft, published or archived", map[string]string{"field": "status"})
	}
	return status, nil
}

func entityKind(value string) (graph.Kind, error) {
	kind, err := graph.ParseKind(value)
	if err != nil || kind == graph.KindDocument {
		return "", notFound("Unknown entity kind")
	}
	return kind, nil
}

func documentLink(documentID string, input LinkInput) (graph.Link, error) {
	rel, err := graph.ParseRelation(input.Rel)
	if err != nil {
		return graph.Link{}, validation("unknown relationship", map[string]string{"field": "rel", "value": input.Rel})
	}
	kind, err := graph.ParseKind(input.ToKind)
	if err != nil {
		return graph.Link{}, validation("unknown target kind", map[string]string{"field": "toKind", "value": input.ToKind})
	}
	return graph.Link{
		From: graph.NodeRef{Kind: graph.KindDocument, ID: documentID},
		Rel:  rel,
		To:   graph.NodeRef{Kind: kind, ID: strings.TrimSpace(input.ToID)},
	}, nil
}

func linkValidation(err error, link graph.Link) error {
	return validation(err.Error(), map[string]string{
		"from": string(link.From.Kind),
		"rel":  string(link.Rel),
		"to":   string(link.To.Kind),
	})
}

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	return strings.Trim(slugSeparators.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}
