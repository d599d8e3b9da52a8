package knowledge

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type document struct {
	KBID             string         `yaml:"kb_id"`
	TenantID         string         `yaml:"tenant_id,omitempty"`
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	VectorStoreType  string         `yaml:"vector_store_type"`
	EmbeddingModel   string         `yaml:"embedding_model"`
	ChunkSize        int            `yaml:"chunk_size"`
	ChunkOverlap     int            `yaml:"chunk_overlap"`
	CollectionName   string         `yaml:"collection_name"`
	PersistDirectory string         `yaml:"persist_directory,omitempty"`
	Status           string         `yaml:"status"`
	Tags             []string       `yaml:"tags"`
	Metadata         map[string]any `yaml:"metadata,omitempty"`
}

// NewLoader returns the YAML loader for documents rooted at "knowledge_bases".
func NewLoader() *declarative.Loader[*Base] {
	return &declarative.Loader[*Base]{
		RootKey:  "knowledge_bases",
		IDFields: []string{"kb_id", "id"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how knowledge bases carry identity and status.
func Binding() declarative.Binding[*Base] {
	return declarative.Binding[*Base]{
		ID:     func(b *Base) string { return b.ID },
		Status: func(b *Base) string { return string(b.Status) },
		WithStatus: func(b *Base, status string) *Base {
			cp := b.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusActive),
	}
}

// Parse builds a knowledge base from one declared item. The collection
// name defaults to kb_{name}.
func Parse(f declarative.Fields) (*Base, error) {
	id := f.String("kb_id", "id")
	if id == "" {
		return nil, declarative.Invalid("kb_id", "is required")
	}
	status := f.StringOr(string(StatusActive), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}
	size, err := f.Int(DefaultChunkSize, "chunk_size", "chunkSize")
	if err != nil {
		return nil, err
	}
	overlap, err := f.Int(DefaultChunkOverlap, "chunk_overlap", "chunkOverlap")
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, declarative.Invalid("chunk_size", "must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, declarative.Invalid("chunk_overlap", "must be between 0 and chunk_size")
	}

	name := f.StringOr(id, "name")
	now := time.Now().UTC()
	return &Base{
		ID:               id,
		TenantID:         f.String("tenant_id", "tenantId"),
		Name:             name,
		Description:      f.String("description"),
		VectorStoreType:  f.StringOr(DefaultVectorStore, "vector_store_type", "vectorStoreType"),
		EmbeddingModel:   f.StringOr(DefaultEmbeddingModel, "embedding_model", "embeddingModel"),
		ChunkSize:        size,
		ChunkOverlap:     overlap,
		CollectionName:   f.StringOr(CollectionFor(name), "collection_name", "collectionName"),
		PersistDirectory: f.String("persist_directory", "persistDirectory"),
		Status:           Status(status),
		Tags:             f.Strings("tags"),
		Metadata:         f.Map("metadata"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func export(b *Base) any {
	doc := document{
		KBID:             b.ID,
		TenantID:         b.TenantID,
		Name:             b.Name,
		Description:      b.Description,
		VectorStoreType:  b.VectorStoreType,
		EmbeddingModel:   b.EmbeddingModel,
		ChunkSize:        b.ChunkSize,
		ChunkOverlap:     b.ChunkOverlap,
		CollectionName:   b.CollectionName,
		PersistDirectory: b.PersistDirectory,
		Status:           string(b.Status),
		Tags:             b.Tags,
	}
	if len(b.Metadata) > 0 {
		doc.Metadata = b.Metadata
	}
	return doc
}
