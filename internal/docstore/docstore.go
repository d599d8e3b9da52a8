// Package docstore is the blocking document-persistence interface used for
// tenant data, usage records and invoices. Backends: in-memory and MongoDB.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("docstore: document not found")

// IDField is the primary key of every stored document.
const IDField = "_id"

// Document is a stored record.
type Document map[string]any

// Filter selects documents. Values are matched by equality, or by an
// operator map using $eq, $ne, $gt, $gte, $lt, $lte or $in.
type Filter map[string]any

// FindOptions controls ordering and paging for Find.
type FindOptions struct {
	SortBy string
	Desc   bool
	Limit  int
	Skip   int
}

// Store is a collection-oriented document store. All calls block until the
// backend answers or ctx is done.
type Store interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (int64, error)
	UpdateMany(ctx context.Context, collection string, filter Filter, set Document) (int64, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	cp := make(Document, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}

// ID returns the document id, or "" when unset.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}
