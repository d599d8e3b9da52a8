package declarative

import (
	"errors"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// Target is the registry surface an import writes through.
// *registry.Registry[T] satisfies it.
type Target[T any] interface {
	Name() string
	Exists(id string) bool
	Register(rec T) (T, error)
	Replace(rec T) (T, error)
	UpdateStatus(id, status string) bool
}

// Binding tells Import how to read identity and status from a record.
type Binding[T any] struct {
	ID     func(T) string
	Status func(T) string
	// WithStatus returns a copy of rec carrying status.
	WithStatus    func(rec T, status string) T
	DefaultStatus string
}

// Options controls the merge policy.
type Options struct {
	// UpdateExisting replaces records whose id is already registered.
	// When false those records are skipped.
	UpdateExisting bool
}

// ItemError is one failed item in an import.
type ItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Result is the outcome of an import batch.
type Result struct {
	Imported []string    `json:"imported"`
	Updated  []string    `json:"updated"`
	Skipped  []string    `json:"skipped"`
	Errors   []ItemError `json:"errors"`
	Total    int         `json:"total"`
}

func newResult() *Result {
	return &Result{
		Imported: []string{},
		Updated:  []string{},
		Skipped:  []string{},
		Errors:   []ItemError{},
	}
}

// Import writes records into target. Registration resets a record to the
// default status; a non-default incoming status is re-applied afterwards
// through UpdateStatus so status indexes stay in step. A failing item is
// recorded in Result.Errors and never stops the batch.
func Import[T any](target Target[T], b Binding[T], records []T, opts Options) *Result {
	res := newResult()
	res.Total = len(records)
	for _, rec := range records {
		importOne(target, b, rec, opts, res)
	}
	return res
}

// ImportBytes parses a document and imports it. Items that fail to parse
// are reported per item; only an unreadable document returns an error.
func ImportBytes[T any](l *Loader[T], target Target[T], b Binding[T], data []byte, opts Options) (*Result, error) {
	raw, err := l.Items(data)
	if err != nil {
		return nil, err
	}

	res := newResult()
	res.Total = len(raw)
	for _, item := range raw {
		if item.Err != nil {
			res.fail(target.Name(), item.ID, item.Err)
			continue
		}
		rec, err := l.Parse(item.Fields)
		if err != nil {
			res.fail(target.Name(), item.ID, err)
			continue
		}
		importOne(target, b, rec, opts, res)
	}
	return res, nil
}

func importOne[T any](target Target[T], b Binding[T], rec T, opts Options, res *Result) {
	id := b.ID(rec)
	if id == "" {
		res.fail(target.Name(), "", Invalid("id", "is required"))
		return
	}
	status := b.Status(rec)
	fresh := b.WithStatus(rec, b.DefaultStatus)

	if target.Exists(id) {
		if !opts.UpdateExisting {
			res.Skipped = append(res.Skipped, id)
			metrics.ImportItemsTotal.WithLabelValues(target.Name(), "skipped").Inc()
			return
		}
		if _, err := target.Replace(fresh); err != nil {
			res.fail(target.Name(), id, err)
			return
		}
		if status != "" && status != b.DefaultStatus {
			target.UpdateStatus(id, status)
		}
		res.Updated = append(res.Updated, id)
		metrics.ImportItemsTotal.WithLabelValues(target.Name(), "updated").Inc()
		return
	}

	if _, err := target.Register(fresh); err != nil {
		res.fail(target.Name(), id, err)
		return
	}
	if status != "" && status != b.DefaultStatus {
		target.UpdateStatus(id, status)
	}
	res.Imported = append(res.Imported, id)
	metrics.ImportItemsTotal.WithLabelValues(target.Name(), "imported").Inc()
}

func (r *Result) fail(name, id string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) && verr.ID == "" {
		verr.ID = id
	}
	r.Errors = append(r.Errors, ItemError{ID: id, Message: err.Error()})
	metrics.ImportItemsTotal.WithLabelValues(name, "error").Inc()
}
