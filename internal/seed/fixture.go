// Package seed loads YAML fixtures into the document stores through the
// document service, so seeded data obeys the same rules as API writes.
package seed

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nallo/api/internal/app"
	"nallo/api/internal/graph"
)

// Fixture is the file format. Keys are local to the fixture; the stores
// assign real IDs when it is loaded.
type Fixture struct {
	Versions  []EntityFixture   `yaml:"versions"`
	Concepts  []EntityFixture   `yaml:"concepts"`
	Tags      []EntityFixture   `yaml:"tags"`
	Pages     []EntityFixture   `yaml:"pages"`
	Documents []DocumentFixture `yaml:"documents"`
	Links     []LinkFixture     `yaml:"links"`
}

type EntityFixture struct {
	Key             string `yaml:"key"`
	app.EntityInput `yaml:",inline"`
}

// DocumentFixture may name its version by fixture key instead of ID.
type DocumentFixture struct {
	Key                     string `yaml:"key"`
	Version                 string `yaml:"version"`
	app.CreateDocumentInput `yaml:",inline"`
}

// LinkFixture endpoints are written "doc:<key>" or "<kind>:<key>", for
// example "concept:working-copy".
type LinkFixture struct {
	From string `yaml:"from"`
	Rel  string `yaml:"rel"`
	To   string `yaml:"to"`
}

type nodeKey struct {
	kind graph.Kind
	key  string
}

// Load reads and validates a fixture file. Unknown fields are rejected.
func Load(path string) (Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	var fixture Fixture
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&fixture); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if err := fixture.Validate(); err != nil {
		return Fixture{}, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return fixture, nil
}

// entityGroups returns the entity lists in creation order. Versions come
// first so documents can point at them.
func (f Fixture) entityGroups() []struct {
	kind  graph.Kind
	items []EntityFixture
} {
	return []struct {
		kind  graph.Kind
		items []EntityFixture
	}{
		{graph.KindVersion, f.Versions},
		{graph.KindConcept, f.Concepts},
		{graph.KindTag, f.Tags},
		{graph.KindPage, f.Pages},
	}
}

// Validate checks keys and references without touching any store.
func (f Fixture) Validate() error {
	var errs []error
	known := map[nodeKey]struct{}{}
	declare := func(kind graph.Kind, key string) {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("%s without key", strings.ToLower(string(kind))))
			return
		}
		id := nodeKey{kind: kind, key: key}
		if _, dup := known[id]; dup {
			errs = append(errs, fmt.Errorf("duplicate %s key %q", strings.ToLower(string(kind)), key))
			return
		}
		known[id] = struct{}{}
	}

	for _, group := range f.entityGroups() {
		for _, item := range group.items {
			declare(group.kind, item.Key)
			if strings.TrimSpace(item.Name) == "" {
				errs = append(errs, fmt.Errorf("%s %q has no name", strings.ToLower(string(group.kind)), item.Key))
			}
		}
	}
	for _, doc := range f.Documents {
		declare(graph.KindDocument, doc.Key)
		if strings.TrimSpace(doc.Title) == "" {
			errs = append(errs, fmt.Errorf("document %q has no title", doc.Key))
		}
		if doc.Version != "" {
			if _, ok := known[nodeKey{kind: graph.KindVersion, key: doc.Version}]; !ok {
				errs = append(errs, fmt.Errorf("document %q names unknown version %q", doc.Key, doc.Version))
			}
		}
	}

	for i, link := range f.Links {
		from, err := parseRef(link.From)
		if err != nil {
			errs = append(errs, fmt.Errorf("link %d: %w", i, err))
			continue
		}
		to, err := parseRef(link.To)
		if err != nil {
			errs = append(errs, fmt.Errorf("link %d: %w", i, err))
			continue
		}
		for _, ref := range []nodeKey{from, to} {
			if _, ok := known[ref]; !ok {
				errs = append(errs, fmt.Errorf("link %d: unknown %s %q", i, strings.ToLower(string(ref.kind)), ref.key))
			}
		}
		rel, err := graph.ParseRelation(link.Rel)
		if err != nil {
			errs = append(errs, fmt.Errorf("link %d: %w: %q", i, err, link.Rel))
			continue
		}
		// IDs only need to be non-empty and distinct for the shape check.
		shape := graph.Link{
			From: graph.NodeRef{Kind: from.kind, ID: "from"},
			Rel:  rel,
			To:   graph.NodeRef{Kind: to.kind, ID: "to"},
		}
		if err := shape.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("link %d: %s %s %s: %w", i, from.kind, rel, to.kind, err))
		}
	}
	return errors.Join(errs...)
}

func parseRef(value string) (nodeKey, error) {
	prefix, key, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok || strings.TrimSpace(key) == "" {
		return nodeKey{}, fmt.Errorf("reference %q must look like kind:key", value)
	}
	if strings.EqualFold(prefix, "doc") {
		return nodeKey{kind: graph.KindDocument, key: key}, nil
	}
	kind, err := graph.ParseKind(prefix)
	if err != nil {
		return nodeKey{}, fmt.Errorf("reference %q: %w", value, err)
	}
	return nodeKey{kind: kind, key: key}, nil
}

// Count is the number of writes a full load performs.
func (f Fixture) Count() Report {
	report := Report{Documents: len(f.Documents), Links: len(f.Links)}
	for _, group := range f.entityGroups() {
		report.Entities += len(group.items)
	}
	return report
}
