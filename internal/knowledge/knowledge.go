// Package knowledge keeps the knowledge base catalog and the per-tenant
// document metadata indexed into each base.
package knowledge

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotWritable      = errors.New("knowledge: knowledge base is not active")
	ErrDocumentNotFound = errors.New("knowledge: document not found")
	ErrInvalidDocument  = errors.New("knowledge: invalid document")
)

// Defaults applied to knowledge bases that leave them unset.
const (
	DefaultVectorStore    = "chromadb"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
)

// Status is the lifecycle state of a knowledge base.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// ValidStatus reports whether s is a known knowledge base status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	}
	return false
}

// Base describes one knowledge base and how its documents are chunked and
// embedded.
type Base struct {
	ID               string         `json:"kb_id"`
	TenantID         string         `json:"tenant_id,omitempty"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	VectorStoreType  string         `json:"vector_store_type"`
	EmbeddingModel   string         `json:"embedding_model"`
	ChunkSize        int            `json:"chunk_size"`
	ChunkOverlap     int            `json:"chunk_overlap"`
	CollectionName   string         `json:"collection_name"`
	PersistDirectory string         `json:"persist_directory,omitempty"`
	Status           Status         `json:"status"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (b *Base) Clone() *Base {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Tags = append([]string(nil), b.Tags...)
	cp.Metadata = make(map[string]any, len(b.Metadata))
	for k, v := range b.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// CollectionFor is the vector collection name used when none is declared.
func CollectionFor(name string) string {
	return "kb_" + name
}

// Document status values.
const (
	DocumentPending = "pending"
	DocumentIndexed = "indexed"
	DocumentFailed  = "failed"
)

// Document is the metadata of one source document in a knowledge base.
// Content itself lives in the vector store.
type Document struct {
	ID            string         `json:"document_id"`
	KBID          string         `json:"kb_id"`
	TenantID      string         `json:"tenant_id"`
	Title         string         `json:"title"`
	Source        string         `json:"source"`
	DocumentType  string         `json:"document_type"`
	ContentLength int            `json:"content_length"`
	ChunkCount    int            `json:"chunk_count"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	IndexedAt     *time.Time     `json:"indexed_at,omitempty"`
}
