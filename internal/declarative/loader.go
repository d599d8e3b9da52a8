// Package declarative converts between YAML documents and registry records.
//
// Accepted document shapes:
//
//	agents:            # list form
//	  - id: a1
//	agents:            # object form, key becomes the id when absent
//	  a1: {name: ...}
//	- id: a1           # bare list
//
// A mapping without the root key is treated as the item collection itself.
// Export always emits list form under the root key.
package declarative

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument is returned when a document is neither a mapping nor a list.
var ErrInvalidDocument = errors.New("declarative: expected a mapping or a list")

// ValidationError reports a malformed item.
type ValidationError struct {
	ID      string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseFunc builds a record from one raw item.
type ParseFunc[T any] func(item Fields) (T, error)

// ExportFunc renders a record as a YAML-serialisable value, usually a struct
// with yaml tags so field order is stable.
type ExportFunc[T any] func(T) any

// RawItem is an undecoded document item plus the id it declares (if any).
// Err is set when the item itself is malformed; Fields is nil then.
type RawItem struct {
	ID     string
	Fields Fields
	Err    error
}

// Loader parses and exports one record type.
type Loader[T any] struct {
	// RootKey is the document key holding the items, e.g. "agents".
	RootKey string
	// IDFields lists accepted identity keys; the first is injected for
	// object-form items that carry none.
	IDFields []string
	Parse    ParseFunc[T]
	Export   ExportFunc[T]
}

// Items decodes a document into raw items, preserving document order.
// A malformed item is returned with Err set so callers can report it
// without losing its neighbours; only an unreadable document fails.
func (l *Loader[T]) Items(data []byte) ([]RawItem, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("declarative: parse %s document: %w", l.RootKey, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []RawItem{}, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		return l.fromSequence(root)
	case yaml.MappingNode:
		if node := mappingValue(root, l.RootKey); node != nil {
			switch node.Kind {
			case yaml.SequenceNode:
				return l.fromSequence(node)
			case yaml.MappingNode:
				return l.fromMapping(node)
			case yaml.ScalarNode:
				if node.Tag == "!!null" {
					return []RawItem{}, nil
				}
			}
			return nil, fmt.Errorf("%w: %s must hold a list or mapping", ErrInvalidDocument, l.RootKey)
		}
		return l.fromMapping(root)
	default:
		return nil, ErrInvalidDocument
	}
}

// LoadBytes parses every item. The first invalid item aborts the load.
func (l *Loader[T]) LoadBytes(data []byte) ([]T, error) {
	raw, err := l.Items(data)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		if item.Err != nil {
			return nil, item.Err
		}
		rec, err := l.Parse(item.Fields)
		if err != nil {
			return nil, fmt.Errorf("declarative: %s item %d (%s): %w", l.RootKey, i, item.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Fields renders rec in its declared form, the way Parse reads it back.
func (l *Loader[T]) Fields(rec T) (Fields, error) {
	data, err := yaml.Marshal(l.Export(rec))
	if err != nil {
		return nil, fmt.Errorf("declarative: render %s item: %w", l.RootKey, err)
	}
	fields := Fields{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("declarative: render %s item: %w", l.RootKey, err)
	}
	return fields, nil
}

// LoadFile reads and parses one YAML file.
func (l *Loader[T]) LoadFile(path string) ([]T, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("declarative: read %s: %w", path, err)
	}
	return l.LoadBytes(data)
}

// Files lists the *.yaml / *.yml files in dir in name order.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(e.Name())); ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ExportBytes renders records in list form under the root key.
func (l *Loader[T]) ExportBytes(records []T) ([]byte, error) {
	items := make([]any, 0, len(records))
	for _, rec := range records {
		items = append(items, l.Export(rec))
	}
	out, err := yaml.Marshal(map[string][]any{l.RootKey: items})
	if err != nil {
		return nil, fmt.Errorf("declarative: export %s: %w", l.RootKey, err)
	}
	return out, nil
}

// SaveFile writes records to path in list form.
func (l *Loader[T]) SaveFile(path string, records []T) error {
	data, err := l.ExportBytes(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (l *Loader[T]) fromSequence(node *yaml.Node) ([]RawItem, error) {
	out := make([]RawItem, 0, len(node.Content))
	for i, child := range node.Content {
		fields, err := decodeFields(child)
		if err != nil {
			out = append(out, RawItem{Err: fmt.Errorf("declarative: %s item %d: %w", l.RootKey, i, err)})
			continue
		}
		out = append(out, RawItem{ID: fields.String(l.IDFields...), Fields: fields})
	}
	return out, nil
}

func (l *Loader[T]) fromMapping(node *yaml.Node) ([]RawItem, error) {
	out := make([]RawItem, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		fields, err := decodeFields(node.Content[i+1])
		if err != nil {
			out = append(out, RawItem{ID: key, Err: fmt.Errorf("declarative: %s item %q: %w", l.RootKey, key, err)})
			continue
		}
		if !fields.HasAny(l.IDFields...) && len(l.IDFields) > 0 {
			fields[l.IDFields[0]] = key
		}
		out = append(out, RawItem{ID: fields.String(l.IDFields...), Fields: fields})
	}
	return out, nil
}

func decodeFields(node *yaml.Node) (Fields, error) {
	if node.Kind != yaml.MappingNode {
		return nil, Invalid("item", "expected a mapping, got %s", kindName(node.Kind))
	}
	fields := Fields{}
	if err := node.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "mapping"
	}
}
