package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/docstore"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/idgen"
	"github.com/mbd888/agentplatform/internal/tenant"
)

// DocumentsCollection is the tenant-scoped collection holding document metadata.
const DocumentsCollection = "kb_documents"

// NewDocument is the input for AddDocument.
type NewDocument struct {
	Title         string         `json:"title"`
	Source        string         `json:"source"`
	DocumentType  string         `json:"document_type"`
	ContentLength int            `json:"content_length"`
	Metadata      map[string]any `json:"metadata"`
}

// Documents stores document metadata per tenant, one collection per tenant.
type Documents struct {
	bases  *catalog.Catalog[*Base]
	data   *tenant.Manager
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewDocuments creates the document service over the tenant manager's scoped
// data access.
func NewDocuments(bases *catalog.Catalog[*Base], data *tenant.Manager, logger *slog.Logger) *Documents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Documents{
		bases:  bases,
		data:   data,
		events: events.Nop{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents sets the publisher for document changes.
func (d *Documents) WithEvents(p events.Publisher) *Documents {
	d.events = p
	return d
}

// WithClock overrides the time source.
func (d *Documents) WithClock(now func() time.Time) *Documents {
	d.now = now
	return d
}

// AddDocument records a pending document in an active knowledge base the
// caller can see. Documents always belong to the caller's tenant.
func (d *Documents) AddDocument(ctx context.Context, s catalog.Scope, kbID string, in NewDocument) (*Document, error) {
	if s.TenantID == "" {
		return nil, catalog.ErrTenantRequired
	}
	kb, err := d.bases.Get(s, kbID)
	if err != nil {
		return nil, err
	}
	if kb.Status != StatusActive {
		return nil, ErrNotWritable
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDocument)
	}
	if in.ContentLength < 0 {
		return nil, fmt.Errorf("%w: content_length must not be negative", ErrInvalidDocument)
	}

	doc := &Document{
		ID:            idgen.New(),
		KBID:          kb.ID,
		TenantID:      s.TenantID,
		Title:         title,
		Source:        in.Source,
		DocumentType:  in.DocumentType,
		ContentLength: in.ContentLength,
		Status:        DocumentPending,
		Metadata:      in.Metadata,
	}
	if doc.DocumentType == "" {
		doc.DocumentType = "text"
	}
	if _, err := d.data.InsertTenantData(ctx, s.TenantID, DocumentsCollection, documentDoc(doc)); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	stored, err := d.GetDocument(ctx, s, kb.ID, doc.ID)
	if err != nil {
		return nil, err
	}
	d.publish(ctx, events.TypeRegistered, stored)
	return stored, nil
}

// GetDocument returns one of the tenant's documents in a knowledge base.
func (d *Documents) GetDocument(ctx context.Context, s catalog.Scope, kbID, docID string) (*Document, error) {
	if s.TenantID == "" {
		return nil, catalog.ErrTenantRequired
	}
	raw, err := d.data.FindOneTenantData(ctx, s.TenantID, DocumentsCollection, docstore.Filter{
		docstore.IDField: docID,
		"kb_id":          kbID,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return documentFromDoc(raw), nil
}

// ListDocuments returns the tenant's documents in a knowledge base, newest
// first. An empty status matches every document.
func (d *Documents) ListDocuments(ctx context.Context, s catalog.Scope, kbID, status string, limit int) ([]*Document, error) {
	if s.TenantID == "" {
		return nil, catalog.ErrTenantRequired
	}
	if _, err := d.bases.Get(s, kbID); err != nil {
		return nil, err
	}
	filter := docstore.Filter{"kb_id": kbID}
	if status != "" {
		filter["status"] = status
	}
	raws, err := d.data.FindTenantData(ctx, s.TenantID, DocumentsCollection, filter, docstore.FindOptions{
		SortBy: "created_at",
		Desc:   true,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Document, 0, len(raws))
	for _, raw := range raws {
		out = append(out, documentFromDoc(raw))
	}
	return out, nil
}

// MarkIndexed records that a document was chunked into the vector store.
func (d *Documents) MarkIndexed(ctx context.Context, s catalog.Scope, kbID, docID string, chunks int) (*Document, error) {
	if chunks < 0 {
		return nil, fmt.Errorf("%w: chunk_count must not be negative", ErrInvalidDocument)
	}
	return d.setState(ctx, s, kbID, docID, docstore.Document{
		"status":      DocumentIndexed,
		"chunk_count": chunks,
		"error":       "",
		"indexed_at":  d.now(),
	})
}

// MarkFailed records an indexing failure.
func (d *Documents) MarkFailed(ctx context.Context, s catalog.Scope, kbID, docID, reason string) (*Document, error) {
	return d.setState(ctx, s, kbID, docID, docstore.Document{
		"status": DocumentFailed,
		"error":  reason,
	})
}

func (d *Documents) setState(ctx context.Context, s catalog.Scope, kbID, docID string, set docstore.Document) (*Document, error) {
	prev, err := d.GetDocument(ctx, s, kbID, docID)
	if err != nil {
		return nil, err
	}
	n, err := d.data.UpdateTenantData(ctx, s.TenantID, DocumentsCollection, docstore.Filter{docstore.IDField: docID}, set)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrDocumentNotFound
	}
	doc, err := d.GetDocument(ctx, s, kbID, docID)
	if err != nil {
		return nil, err
	}
	if prev.Status != doc.Status {
		d.events.Publish(ctx, events.New("documents", events.TypeStatusChanged, doc.ID, map[string]any{
			"kb_id": doc.KBID,
			"from":  prev.Status,
			"to":    doc.Status,
		}).ForTenant(doc.TenantID))
	}
	return doc, nil
}

// DeleteDocument removes a document's metadata.
func (d *Documents) DeleteDocument(ctx context.Context, s catalog.Scope, kbID, docID string) error {
	doc, err := d.GetDocument(ctx, s, kbID, docID)
	if err != nil {
		return err
	}
	if _, err := d.data.DeleteTenantData(ctx, s.TenantID, DocumentsCollection, docstore.Filter{docstore.IDField: docID}); err != nil {
		return err
	}
	d.publish(ctx, events.TypeUnregistered, doc)
	return nil
}

// CountDocuments counts the tenant's documents in a knowledge base.
func (d *Documents) CountDocuments(ctx context.Context, s catalog.Scope, kbID string) (int64, error) {
	if s.TenantID == "" {
		return 0, catalog.ErrTenantRequired
	}
	return d.data.CountTenantData(ctx, s.TenantID, DocumentsCollection, docstore.Filter{"kb_id": kbID})
}

func (d *Documents) publish(ctx context.Context, typ string, doc *Document) {
	d.events.Publish(ctx, events.New("documents", typ, doc.ID, map[string]any{
		"kb_id": doc.KBID,
		"title": doc.Title,
	}).ForTenant(doc.TenantID))
	d.logger.Debug("knowledge document changed", "event", typ, "kb_id", doc.KBID, "document_id", doc.ID)
}

func documentDoc(doc *Document) docstore.Document {
	out := docstore.Document{
		docstore.IDField: doc.ID,
		"kb_id":          doc.KBID,
		"title":          doc.Title,
		"source":         doc.Source,
		"document_type":  doc.DocumentType,
		"content_length": doc.ContentLength,
		"chunk_count":    doc.ChunkCount,
		"status":         doc.Status,
	}
	if len(doc.Metadata) > 0 {
		out["metadata"] = doc.Metadata
	}
	return out
}

func documentFromDoc(raw docstore.Document) *Document {
	f := declarative.Fields(raw)
	length, _ := f.Int(0, "content_length")
	chunks, _ := f.Int(0, "chunk_count")
	indexed, _ := f.Time("indexed_at")
	return &Document{
		ID:            raw.ID(),
		KBID:          f.String("kb_id"),
		TenantID:      f.String(tenant.FieldTenantID),
		Title:         f.String("title"),
		Source:        f.String("source"),
		DocumentType:  f.String("document_type"),
		ContentLength: length,
		ChunkCount:    chunks,
		Status:        f.String("status"),
		Error:         f.String("error"),
		Metadata:      f.Map("metadata"),
		CreatedAt:     timeField(f, "created_at"),
		UpdatedAt:     timeField(f, "updated_at"),
		IndexedAt:     indexed,
	}
}

func timeField(f declarative.Fields, key string) time.Time {
	ts, err := f.Time(key)
	if err != nil || ts == nil {
		return time.Time{}
	}
	return *ts
}
