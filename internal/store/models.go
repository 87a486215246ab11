package store

import "time"

const storageKeyPrefix = "documents/"

// DocumentContent is the relational half of a document. DocumentID points at
// the graph Document node; neither database enforces that reference.
type DocumentContent struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	StorageKey string    `json:"storageKey"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StorageKey is the object-storage key for a document's content blob. It is
// derived from the document id alone and never stored independently.
func StorageKey(documentID string) string {
	return storageKeyPrefix + documentID
}

// ContentMatch is a full-text hit against document content.
type ContentMatch struct {
	DocumentID string
	Snippet    string
	Rank       float64
}
