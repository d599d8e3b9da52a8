package declarative

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/registry"
)

type widget struct {
	ID     string
	Kind   string
	Status string
	Tags   []string
	Size   int
}

type widgetYAML struct {
	ID     string   `yaml:"id"`
	Kind   string   `yaml:"kind"`
	Status string   `yaml:"status"`
	Tags   []string `yaml:"tags"`
	Size   int      `yaml:"size"`
}

func widgetLoader() *Loader[*widget] {
	return &Loader[*widget]{
		RootKey:  "widgets",
		IDFields: []string{"id", "widget_id"},
		Parse: func(f Fields) (*widget, error) {
			id := f.String("id", "widget_id")
			if id == "" {
				return nil, Invalid("id", "is required")
			}
			size, err := f.Int(1, "size")
			if err != nil {
				return nil, err
			}
			return &widget{
				ID:     id,
				Kind:   f.StringOr("custom", "kind"),
				Status: f.StringOr("registered", "status"),
				Tags:   f.Strings("tags"),
				Size:   size,
			}, nil
		},
		Export: func(w *widget) any {
			return widgetYAML{ID: w.ID, Kind: w.Kind, Status: w.Status, Tags: w.Tags, Size: w.Size}
		},
	}
}

func widgetRegistry() *registry.Registry[*widget] {
	return registry.New("widgets", registry.Config[*widget]{
		ID: func(w *widget) string { return w.ID },
		Clone: func(w *widget) *widget {
			cp := *w
			cp.Tags = append([]string(nil), w.Tags...)
			return &cp
		},
		Status:    func(w *widget) string { return w.Status },
		SetStatus: func(w *widget, s string, _ time.Time) { w.Status = s },
		Tags:      func(w *widget) []string { return w.Tags },
		Indexes: map[string]func(*widget) []string{
			"kind": func(w *widget) []string { return []string{w.Kind} },
		},
	})
}

func widgetBinding() Binding[*widget] {
	return Binding[*widget]{
		ID:     func(w *widget) string { return w.ID },
		Status: func(w *widget) string { return w.Status },
		WithStatus: func(w *widget, s string) *widget {
			cp := *w
			cp.Status = s
			return &cp
		},
		DefaultStatus: "registered",
	}
}

func TestLoader_ListForm(t *testing.T) {
	doc := `
widgets:
  - id: w1
    kind: gear
    tags: [a, b]
    size: 3
  - widget_id: w2
`
	items, err := widgetLoader().LoadBytes([]byte(doc))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, &widget{ID: "w1", Kind: "gear", Status: "registered", Tags: []string{"a", "b"}, Size: 3}, items[0])
	assert.Equal(t, "w2", items[1].ID)
	assert.Equal(t, "custom", items[1].Kind)
	assert.Equal(t, 1, items[1].Size)
}

func TestLoader_ObjectFormInjectsKey(t *testing.T) {
	doc := `
widgets:
  zeta:
    kind: gear
  alpha:
    id: explicit
    kind: cog
`
	items, err := widgetLoader().LoadBytes([]byte(doc))
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Document order is preserved.
	assert.Equal(t, "zeta", items[0].ID)
	assert.Equal(t, "explicit", items[1].ID)
}

func TestLoader_BareListAndRootless(t *testing.T) {
	items, err := widgetLoader().LoadBytes([]byte("- id: a\n- id: b\n"))
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = widgetLoader().LoadBytes([]byte("a:\n  kind: x\nb:\n  kind: y\n"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)

	items, err = widgetLoader().LoadBytes([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = widgetLoader().LoadBytes([]byte("widgets:\n"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoader_Errors(t *testing.T) {
	_, err := widgetLoader().LoadBytes([]byte("just a scalar"))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = widgetLoader().LoadBytes([]byte("widgets: 5"))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = widgetLoader().LoadBytes([]byte("widgets:\n  - kind: gear\n"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	_, err = widgetLoader().LoadBytes([]byte("widgets:\n  - id: w\n    size: big\n"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)

	_, err = widgetLoader().LoadBytes([]byte("widgets:\n  w1: {kind: gear}\n  w2: oops\n"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "item", verr.Field)
	assert.Contains(t, err.Error(), `"w2"`)
}

func TestLoader_ItemsKeepsMalformedEntries(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		ids     []string
		badAt   int
		badID   string
		badKind string
	}{
		{name: "list form", doc: "widgets:\n  - id: w1\n  - oops\n  - id: w3\n", ids: []string{"w1", "", "w3"}, badAt: 1, badID: "", badKind: "scalar"},
		{name: "object form", doc: "widgets:\n  w1: {kind: gear}\n  w2: oops\n", ids: []string{"w1", "w2"}, badAt: 1, badID: "w2", badKind: "scalar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := widgetLoader().Items([]byte(tt.doc))
			require.NoError(t, err)
			require.Len(t, raw, len(tt.ids))
			for i, item := range raw {
				assert.Equal(t, tt.ids[i], item.ID)
				if i == tt.badAt {
					require.Error(t, item.Err)
					assert.Contains(t, item.Err.Error(), tt.badKind)
					assert.Nil(t, item.Fields)
					continue
				}
				assert.NoError(t, item.Err)
			}
		})
	}
}

func TestLoader_RoundTrip(t *testing.T) {
	l := widgetLoader()
	in := []*widget{
		{ID: "w1", Kind: "gear", Status: "active", Tags: []string{"x"}, Size: 2},
		{ID: "w2", Kind: "cog", Status: "registered", Tags: []string{}, Size: 1},
	}

	data, err := l.ExportBytes(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "widgets:")

	out, err := l.LoadBytes(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoader_Files(t *testing.T) {
	dir := t.TempDir()
	l := widgetLoader()
	require.NoError(t, l.SaveFile(filepath.Join(dir, "b.yaml"), []*widget{{ID: "b", Kind: "k", Status: "registered", Tags: []string{}, Size: 1}}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("- id: a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.yml", filepath.Base(files[0]))

	items, err := l.LoadFile(files[1])
	require.NoError(t, err)
	assert.Equal(t, "b", items[0].ID)

	_, err = l.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFields_Accessors(t *testing.T) {
	f := Fields{
		"name":       " padded ",
		"count":      "7",
		"ratio":      2,
		"flag":       "true",
		"when":       "2026-01-02T03:04:05Z",
		"day":        "2026-01-02",
		"nested":     map[string]any{"k": "v"},
		"single":     "one",
		"configSize": 5,
	}

	assert.Equal(t, "padded", f.String("missing", "name"))
	assert.Equal(t, "fallback", f.StringOr("fallback", "missing"))
	n, err := f.Int(0, "count")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = f.Int(0, "config_size", "configSize")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	x, err := f.Float(0, "ratio")
	require.NoError(t, err)
	assert.Equal(t, 2.0, x)
	b, err := f.Bool(false, "flag")
	require.NoError(t, err)
	assert.True(t, b)
	ts, err := f.Time("when")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *ts)
	ts, err = f.Time("day")
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Day())
	ts, err = f.Time("absent")
	require.NoError(t, err)
	assert.Nil(t, ts)
	assert.Equal(t, map[string]any{"k": "v"}, f.Map("nested"))
	assert.Equal(t, []string{"one"}, f.Strings("single"))
	assert.True(t, f.HasAny("nope", "name"))

	_, err = Fields{"when": "yesterday"}.Time("when")
	assert.Error(t, err)
}
