package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/docstore"
	"github.com/mbd888/agentplatform/internal/events"
)

// Collection holds one document per provider, keyed by name.
const Collection = "llm_providers"

const (
	fieldAPIKey    = "api_key"
	fieldAPISecret = "api_secret"
)

// Store persists the provider registry to the document store. It is wired
// as the catalog's event publisher so every registry change is written
// through before the request returns. Credentials live only in the store.
type Store struct {
	docs   docstore.Store
	reg    *Registry
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a store over docs. A nil docs keeps providers in memory
// only and makes credential calls fail with ErrNoStore.
func NewStore(docs docstore.Store, reg *Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:   docs,
		reg:    reg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load registers every stored provider that the registry does not already
// hold and returns how many were added.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.docs == nil {
		return 0, nil
	}
	raws, err := s.docs.Find(ctx, Collection, docstore.Filter{}, docstore.FindOptions{SortBy: "name"})
	if err != nil {
		return 0, fmt.Errorf("load providers: %w", err)
	}
	n := 0
	for _, raw := range raws {
		p, err := providerFromDoc(raw)
		if err != nil {
			s.logger.Warn("skipping stored provider", "id", raw.ID(), "error", err)
			continue
		}
		if s.reg.Exists(p.Name) {
			continue
		}
		if _, err := s.reg.Register(p); err != nil {
			s.logger.Warn("skipping stored provider", "id", p.Name, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Publish writes provider changes through to the document store. Events
// for other resources are ignored.
func (s *Store) Publish(ctx context.Context, e events.Event) {
	if s.docs == nil || e.Resource != "providers" {
		return
	}
	var err error
	switch e.Type {
	case events.TypeUnregistered:
		_, err = s.docs.DeleteMany(ctx, Collection, docstore.Filter{docstore.IDField: e.ID})
	case events.TypeImported:
		err = s.sync(ctx)
	default:
		if p, ok := s.reg.Get(e.ID); ok {
			err = s.save(ctx, p)
		}
	}
	if err != nil {
		s.logger.Error("provider write-through failed", "event", e.Type, "id", e.ID, "error", err)
	}
}

func (s *Store) sync(ctx context.Context) error {
	var errs []error
	for _, p := range s.reg.All() {
		if err := s.save(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// save upserts the record's fields. Stored credentials are left untouched.
func (s *Store) save(ctx context.Context, p *Provider) error {
	doc := providerDoc(p)
	n, err := s.docs.UpdateOne(ctx, Collection, docstore.Filter{docstore.IDField: p.Name}, doc)
	if err != nil || n > 0 {
		return err
	}
	doc[docstore.IDField] = p.Name
	_, err = s.docs.InsertOne(ctx, Collection, doc)
	return err
}

// SetCredentials stores the API key and secret of a registered provider.
func (s *Store) SetCredentials(ctx context.Context, name string, creds Credentials) (*Provider, error) {
	if s.docs == nil {
		return nil, ErrNoStore
	}
	p, ok := s.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", catalog.ErrNotFound, name)
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.docs.UpdateOne(ctx, Collection, docstore.Filter{docstore.IDField: name}, docstore.Document{
		fieldAPIKey:    creds.APIKey,
		fieldAPISecret: creds.APISecret,
		"updated_at":   s.now(),
	}); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}
	return s.reg.Update(name, func(p *Provider) error {
		p.HasAPIKey = creds.APIKey != ""
		p.UpdatedAt = s.now()
		return nil
	})
}

// Credentials returns the stored secrets of a provider.
func (s *Store) Credentials(ctx context.Context, name string) (Credentials, error) {
	if s.docs == nil {
		return Credentials{}, ErrNoStore
	}
	raw, err := s.docs.FindOne(ctx, Collection, docstore.Filter{docstore.IDField: name})
	if errors.Is(err, docstore.ErrNotFound) {
		return Credentials{}, fmt.Errorf("%w: provider %s", catalog.ErrNotFound, name)
	}
	if err != nil {
		return Credentials{}, err
	}
	f := declarative.Fields(raw)
	creds := Credentials{APIKey: f.String(fieldAPIKey), APISecret: f.String(fieldAPISecret)}
	if creds.APIKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

func providerDoc(p *Provider) docstore.Document {
	return docstore.Document{
		"name":               p.Name,
		"display_name":       p.DisplayName,
		"description":        p.Description,
		"website":            p.Website,
		"api_doc_url":        p.APIDocURL,
		"logo_url":           p.LogoURL,
		"is_active":          p.Active,
		"supported_features": p.SupportedFeatures,
		"default_base_url":   p.DefaultBaseURL,
		"is_aggregator":      p.IsAggregator,
		"aggregator_type":    p.AggregatorType,
		"model_name_format":  p.ModelNameFormat,
		"extra_config":       p.ExtraConfig,
		"status":             string(p.Status),
		"created_at":         p.CreatedAt,
		"updated_at":         p.UpdatedAt,
	}
}

func providerFromDoc(raw docstore.Document) (*Provider, error) {
	p, err := Parse(declarative.Fields(raw))
	if err != nil {
		return nil, err
	}
	f := declarative.Fields(raw)
	if ts, err := f.Time("created_at"); err == nil && ts != nil {
		p.CreatedAt = *ts
	}
	if ts, err := f.Time("updated_at"); err == nil && ts != nil {
		p.UpdatedAt = *ts
	}
	p.HasAPIKey = f.String(fieldAPIKey) != ""
	return p, nil
}
