package graph

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("graph node not found")
	ErrDuplicate       = errors.New("graph node already exists")
	ErrInvalidRelation = errors.New("relationship not allowed")
	ErrInvalidKind     = errors.New("unknown node kind")
)

// Kind is a node label. Labels cannot be query parameters, so every label
// interpolated into Cypher must come from this closed set.
type Kind string

const (
	KindDocument Kind = "Document"
	KindConcept  Kind = "Concept"
	KindTag      Kind = "Tag"
	KindVersion  Kind = "Version"
	KindPage     Kind = "Page"
)

// EntityKinds are the non-document labels managed through CreateEntity.
var EntityKinds = []Kind{KindConcept, KindTag, KindVersion, KindPage}

func (k Kind) Valid() bool {
	switch k {
	case KindDocument, KindConcept, KindTag, KindVersion, KindPage:
		return true
	}
	return false
}

// ParseKind accepts a label ("Concept"), its lower-case form, or the plural
// used in URL paths ("concepts").
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimSuffix(normalized, "s")
	for _, kind := range []Kind{KindDocument, KindConcept, KindTag, KindVersion, KindPage} {
		if strings.ToLower(string(kind)) == normalized {
			return kind, nil
		}
	}
	return "", ErrInvalidKind
}

type Relation string

const (
	RelReferences Relation = "REFERENCES"
	RelBelongsTo  Relation = "BELONGS_TO"
	RelTaggedWith Relation = "TAGGED_WITH"
	RelSupersedes Relation = "SUPERSEDES"
)

func ParseRelation(value string) (Relation, error) {
	rel := Relation(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))))
	if _, ok := allowedLinks[rel]; !ok {
		return "", ErrInvalidRelation
	}
	return rel, nil
}

// allowedLinks maps each relationship to the from-kinds it may start at and
// the to-kinds it may end at. SUPERSEDES has an extra same-kind rule.
var allowedLinks = map[Relation]struct {
	from []Kind
	to   []Kind
}{
	RelReferences: {from: []Kind{KindDocument, KindPage}, to: []Kind{KindConcept, KindDocument}},
	RelBelongsTo:  {from: []Kind{KindDocument}, to: []Kind{KindVersion, KindPage}},
	RelTaggedWith: {from: []Kind{KindDocument, KindConcept}, to: []Kind{KindTag}},
	RelSupersedes: {from: []Kind{KindDocument, KindVersion}, to: []Kind{KindDocument, KindVersion}},
}

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Author    string    `json:"author"`
	VersionID string    `json:"versionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentPatch holds optional metadata changes; nil fields are left alone.
// An empty VersionID clears the version pointer.
type DocumentPatch struct {
	Title     *string
	Status    *string
	Author    *string
	VersionID *string
}

func (p DocumentPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.Author == nil && p.VersionID == nil
}

type DocumentFilter struct {
	Status    string
	VersionID string
	Limit     int
}

// Entity is a Concept, Tag, Version or Page node. Name holds the concept
// term, tag name, version name or page title.
type Entity struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Slug        string    `json:"slug,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type NodeRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

type Link struct {
	From NodeRef
	Rel  Relation
	To   NodeRef
}

// Validate checks the link against the allowed relationship triples.
func (l Link) Validate() error {
	if !l.From.Kind.Valid() || !l.To.Kind.Valid() {
		return ErrInvalidKind
	}
	if strings.TrimSpace(l.From.ID) == "" || strings.TrimSpace(l.To.ID) == "" {
		return ErrInvalidRelation
	}
	rule, ok := allowedLinks[l.Rel]
	if !ok || !containsKind(rule.from, l.From.Kind) || !containsKind(rule.to, l.To.Kind) {
		return ErrInvalidRelation
	}
	if l.Rel == RelSupersedes && l.From.Kind != l.To.Kind {
		return ErrInvalidRelation
	}
	if l.From == l.To {
		return ErrInvalidRelation
	}
	return nil
}

// replacesVersionPointer reports whether the link is a document's single
// BELONGS_TO edge to a Version.
func (l Link) replacesVersionPointer() bool {
	return l.Rel == RelBelongsTo && l.From.Kind == KindDocument && l.To.Kind == KindVersion
}

// Edge is one relationship touching a document, seen from that document.
type Edge struct {
	Rel       Relation `json:"rel"`
	Direction string   `json:"direction"`
	Node      NodeRef  `json:"node"`
	Name      string   `json:"name"`
}

const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

func containsKind(kinds []Kind, kind Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
