package graph

import (
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func documentFromRecord(record *neo4j.Record) Document {
	return Document{
		ID:        stringValue(record, "id"),
		Title:     stringValue(record, "title"),
		Status:    stringValue(record, "status"),
		Author:    stringValue(record, "author"),
		VersionID: stringValue(record, "version_id"),
		CreatedAt: timeValue(record, "created_at"),
		UpdatedAt: timeValue(record, "updated_at"),
	}
}

func entityFromRecord(record *neo4j.Record) Entity {
	return Entity{
		ID:          stringValue(record, "id"),
		Kind:        Kind(stringValue(record, "kind")),
		Name:        stringValue(record, "name"),
		Description: stringValue(record, "description"),
		Slug:        stringValue(record, "slug"),
		CreatedAt:   timeValue(record, "created_at"),
	}
}

func stringValue(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func int64Value(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// timeValue reads a DATETIME property, which the driver hands back as
// time.Time. Local datetimes are read as UTC.
func timeValue(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func lowerKind(kind Kind) string {
	return strings.ToLower(string(kind))
}
