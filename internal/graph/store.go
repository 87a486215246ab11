// Package graph is the metadata store: documents, glossary concepts, tags,
// release versions and site pages as Neo4j nodes, plus the edges that relate
// them. Content bodies live in the relational store, not here.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	defaultListLimit       = 100
	constraintViolation    = "Neo.ClientError.Schema.ConstraintValidationFailed"
	documentProjection     = `d.id AS id, d.title AS title, d.status AS status, d.author AS author, d.created_at AS created_at, d.updated_at AS updated_at`
	entityProjectionFormat = `n.id AS id, '%s' AS kind, n.name AS name, n.description AS description, n.slug AS slug, n.created_at AS created_at`
)

type Store struct {
	exec executor
	now  func() time.Time
}

// New builds a Store on a Neo4j driver. The driver connects lazily, so New
// succeeds while the database is down; use Ping to check connectivity.
func New(cfg Config) (*Store, error) {
	exec, err := newDriverExecutor(cfg)
	if err != nil {
		return nil, err
	}
	return newStore(exec), nil
}

func newStore(exec executor) *Store {
	return &Store{exec: exec, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close(ctx context.Context) error {
	return s.exec.close(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.exec.ping(ctx)
}

// EnsureConstraints creates a uniqueness constraint on id for every label.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	for _, kind := range append([]Kind{KindDocument}, EntityKinds...) {
		cypher := fmt.Sprintf(`CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE`, lowerKind(kind), kind)
		if _, err := s.exec.write(ctx, cypher, nil); err != nil {
			return fmt.Errorf("ensure %s constraint: %w", kind, err)
		}
	}
	return nil
}

// CreateDocument writes a new Document node and, when VersionID names an
// existing Version, its BELONGS_TO edge.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	now := s.now()
	records, err := s.exec.write(ctx, `
		CREATE (d:Document {id: $id, title: $title, status: $status, author: $author, created_at: $now, updated_at: $now})
		WITH d
		OPTIONAL MATCH (v:Version {id: $versionId})
		FOREACH (_ IN CASE WHEN v IS NULL THEN [] ELSE [1] END | MERGE (d)-[:BELONGS_TO]->(v))
		RETURN `+documentProjection+`, v.id AS version_id
	`, map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"status":    doc.Status,
		"author":    doc.Author,
		"versionId": doc.VersionID,
		"now":       now,
	})
	if err != nil {
		return Document{}, translate("create document", err)
	}
	if len(records) == 0 {
		return Document{}, fmt.Errorf("create document %s: no record returned", doc.ID)
	}
	return documentFromRecord(records[0]), nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	records, err := s.exec.read(ctx, `
		MATCH (d:Document {id: $id})
		OPTIONAL MATCH (d)-[:BELONGS_TO]->(v:Version)
		RETURN `+documentProjection+`, v.id AS version_id
		LIMIT 1
	`, map[string]any{"id": id})
	if err != nil {
		return Document{}, translate("get document", err)
	}
	if len(records) == 0 {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return documentFromRecord(records[0]), nil
}

func (s *Store) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	records, err := s.exec.read(ctx, `
		MATCH (d:Document)
		OPTIONAL MATCH (d)-[:BELONGS_TO]->(v:Version)
		WITH d, v
		WHERE ($status = '' OR d.status = $status) AND ($versionId = '' OR v.id = $versionId)
		RETURN `+documentProjection+`, v.id AS version_id
		ORDER BY d.updated_at DESC
		LIMIT $limit
	`, map[string]any{"status": filter.Status, "versionId": filter.VersionID, "limit": int64(limit)})
	if err != nil {
		return nil, translate("list documents", err)
	}
	items := make([]Document, 0, len(records))
	for _, record := range records {
		items = append(items, documentFromRecord(record))
	}
	return items, nil
}

// UpdateDocument applies patch and bumps updated_at. A non-nil VersionID
// replaces the version pointer; an empty one removes it.
func (s *Store) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (Document, error) {
	records, err := s.exec.write(ctx, `
		MATCH (d:Document {id: $id})
		SET d.title = coalesce($title, d.title),
			d.status = coalesce($status, d.status),
			d.author = coalesce($author, d.author),
			d.updated_at = $now
		WITH d
		OPTIONAL MATCH (d)-[old:BELONGS_TO]->(:Version)
		WHERE $versionId IS NOT NULL
		DELETE old
		WITH DISTINCT d
		OPTIONAL MATCH (nv:Version {id: $versionId})
		FOREACH (_ IN CASE WHEN nv IS NULL THEN [] ELSE [1] END | MERGE (d)-[:BELONGS_TO]->(nv))
		WITH d
		OPTIONAL MATCH (d)-[:BELONGS_TO]->(v:Version)
		RETURN `+documentProjection+`, v.id AS version_id
		LIMIT 1
	`, map[string]any{
		"id":        id,
		"title":     optional(patch.Title),
		"status":    optional(patch.Status),
		"author":    optional(patch.Author),
		"versionId": optional(patch.VersionID),
		"now":       s.now(),
	})
	if err != nil {
		return Document{}, translate("update document", err)
	}
	if len(records) == 0 {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return documentFromRecord(records[0]), nil
}

// DeleteDocument removes the node and every edge touching it.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	records, err := s.exec.write(ctx, `
		MATCH (d:Document {id: $id})
		WITH d, d.id AS id
		DETACH DELETE d
		RETURN id
	`, map[string]any{"id": id})
	if err != nil {
		return translate("delete document", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) CreateEntity(ctx context.Context, kind Kind, entity Entity) (Entity, error) {
	if kind == KindDocument || !kind.Valid() {
		return Entity{}, ErrInvalidKind
	}
	records, err := s.exec.write(ctx, fmt.Sprintf(`
		CREATE (n:%s {id: $id, name: $name, description: $description, slug: $slug, created_at: $now})
		RETURN `+entityProjectionFormat, kind, kind), map[string]any{
		"id":          entity.ID,
		"name":        entity.Name,
		"description": entity.Description,
		"slug":        entity.Slug,
		"now":         s.now(),
	})
	if err != nil {
		return Entity{}, translate("create "+lowerKind(kind), err)
	}
	if len(records) == 0 {
		return Entity{}, fmt.Errorf("create %s %s: no record returned", lowerKind(kind), entity.ID)
	}
	return entityFromRecord(records[0]), nil
}

func (s *Store) GetEntity(ctx context.Context, kind Kind, id string) (Entity, error) {
	if kind == KindDocument || !kind.Valid() {
		return Entity{}, ErrInvalidKind
	}
	records, err := s.exec.read(ctx, fmt.Sprintf(`
		MATCH (n:%s {id: $id})
		RETURN `+entityProjectionFormat+`
		LIMIT 1
	`, kind, kind), map[string]any{"id": id})
	if err != nil {
		return Entity{}, translate("get "+lowerKind(kind), err)
	}
	if len(records) == 0 {
		return Entity{}, fmt.Errorf("%s %s: %w", lowerKind(kind), id, ErrNotFound)
	}
	return entityFromRecord(records[0]), nil
}

func (s *Store) ListEntities(ctx context.Context, kind Kind, limit int) ([]Entity, error) {
	if kind == KindDocument || !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	records, err := s.exec.read(ctx, fmt.Sprintf(`
		MATCH (n:%s)
		RETURN `+entityProjectionFormat+`
		ORDER BY n.name
		LIMIT $limit
	`, kind, kind), map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, translate("list "+lowerKind(kind), err)
	}
	items := make([]Entity, 0, len(records))
	for _, record := range records {
		items = append(items, entityFromRecord(record))
	}
	return items, nil
}

// Link creates the edge if it does not exist yet. Both endpoints must exist.
func (s *Store) Link(ctx context.Context, link Link) error {
	if err := link.Validate(); err != nil {
		return err
	}
	var cypher string
	if link.replacesVersionPointer() {
		cypher = fmt.Sprintf(`
			MATCH (a:%s {id: $from}), (b:%s {id: $to})
			OPTIONAL MATCH (a)-[old:BELONGS_TO]->(:Version)
			DELETE old
			WITH DISTINCT a, b
			MERGE (a)-[r:%s]->(b)
			RETURN type(r) AS rel
		`, link.From.Kind, link.To.Kind, link.Rel)
	} else {
		cypher = fmt.Sprintf(`
			MATCH (a:%s {id: $from}), (b:%s {id: $to})
			MERGE (a)-[r:%s]->(b)
			RETURN type(r) AS rel
		`, link.From.Kind, link.To.Kind, link.Rel)
	}
	records, err := s.exec.write(ctx, cypher, map[string]any{"from": link.From.ID, "to": link.To.ID})
	if err != nil {
		return translate("link", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("link %s-[%s]->%s: %w", link.From.ID, link.Rel, link.To.ID, ErrNotFound)
	}
	return nil
}

// Unlink removes the edge. Removing an edge that is not there is not an error.
func (s *Store) Unlink(ctx context.Context, link Link) (bool, error) {
	if err := link.Validate(); err != nil {
		return false, err
	}
	records, err := s.exec.write(ctx, fmt.Sprintf(`
		OPTIONAL MATCH (:%s {id: $from})-[r:%s]->(:%s {id: $to})
		DELETE r
		RETURN count(r) AS removed
	`, link.From.Kind, link.Rel, link.To.Kind), map[string]any{"from": link.From.ID, "to": link.To.ID})
	if err != nil {
		return false, translate("unlink", err)
	}
	if len(records) == 0 {
		return false, nil
	}
	return int64Value(records[0], "removed") > 0, nil
}

// Related lists every edge touching the document.
func (s *Store) Related(ctx context.Context, documentID string) ([]Edge, error) {
	records, err := s.exec.read(ctx, `
		MATCH (d:Document {id: $id})
		OPTIONAL MATCH (d)-[r]-(n)
		RETURN type(r) AS rel,
			CASE WHEN r IS NULL THEN null WHEN startNode(r) = d THEN 'out' ELSE 'in' END AS direction,
			labels(n)[0] AS kind,
			n.id AS id,
			coalesce(n.name, n.title) AS name
	`, map[string]any{"id": documentID})
	if err != nil {
		return nil, translate("related", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	edges := make([]Edge, 0, len(records))
	for _, record := range records {
		rel := stringValue(record, "rel")
		if rel == "" {
			continue
		}
		edges = append(edges, Edge{
			Rel:       Relation(rel),
			Direction: stringValue(record, "direction"),
			Node:      NodeRef{Kind: Kind(stringValue(record, "kind")), ID: stringValue(record, "id")},
			Name:      stringValue(record, "name"),
		})
	}
	return edges, nil
}

func translate(op string, err error) error {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func optional(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
