package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/registry"
)

func TestParse_Defaults(t *testing.T) {
	a, err := Parse(declarative.Fields{"agent_id": "a1", "agent_type": "astrologer"})
	require.NoError(t, err)

	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, "a1", a.Name)
	assert.Equal(t, DefaultVersion, a.Version)
	assert.Equal(t, DefaultAuthor, a.Author)
	assert.Equal(t, DefaultCategory, a.Category)
	assert.Equal(t, TypeCustom, a.Type)
	assert.Equal(t, StatusRegistered, a.Status)
	assert.False(t, a.CreatedAt.IsZero())

	_, err = Parse(declarative.Fields{"name": "nameless"})
	var verr *declarative.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	_, err = Parse(declarative.Fields{"id": "a2", "status": "sleeping"})
	assert.ErrorAs(t, err, &verr)

	_, err = Parse(declarative.Fields{"id": "a3", "created_at": "yesterday"})
	assert.ErrorAs(t, err, &verr)
}

func TestLoader_ExampleDocument(t *testing.T) {
	doc := `
agents:
  - id: stock_analyst
    name: Stock Analyst
    version: 2.1.0
    agent_type: analyst
    author: Platform Team
    category: trading
    tags: [stock, analysis]
    capabilities: [market_analysis, report_generation]
    requirements:
      - data_source: tushare
      - llm_provider: dashscope
    config_schema:
      analysis_depth:
        type: string
        default: standard
    status: active
    created_at: "2025-01-02T03:04:05Z"
  - id: risk_manager
    agentType: risk_manager
    category: risk
`
	items, err := NewLoader().LoadBytes([]byte(doc))
	require.NoError(t, err)
	require.Len(t, items, 2)

	a := items[0]
	assert.Equal(t, TypeAnalyst, a.Type)
	assert.Equal(t, "2.1.0", a.Version)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, []string{"market_analysis", "report_generation"}, a.Capabilities)
	assert.Equal(t, map[string]any{"data_source": "tushare", "llm_provider": "dashscope"}, a.Requirements)
	assert.Equal(t, 2025, a.CreatedAt.Year())
	assert.Equal(t, TypeRiskManager, items[1].Type)
}

func TestLoader_RoundTrip(t *testing.T) {
	l := NewLoader()
	in, err := l.LoadBytes([]byte("agents:\n  a1: {agent_type: trader, tags: [x], status: inactive}\n"))
	require.NoError(t, err)

	out, err := l.ExportBytes(in)
	require.NoError(t, err)
	again, err := l.LoadBytes(out)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, in[0].ID, again[0].ID)
	assert.Equal(t, in[0].Type, again[0].Type)
	assert.Equal(t, in[0].Tags, again[0].Tags)
	assert.Equal(t, in[0].Status, again[0].Status)
	assert.Equal(t, in[0].CreatedAt.Unix(), again[0].CreatedAt.Unix())
}

// Importing a document that declares the same id twice keeps the first
// declaration and reports the second as skipped.
func TestImport_DuplicateIDKeepsFirst(t *testing.T) {
	cat := NewCatalog(NewRegistry(), nil)
	doc := `
agents:
  - id: a1
    agent_type: analyst
  - id: a1
    agent_type: trader
`
	res, err := cat.Import(context.Background(), []byte(doc), declarative.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a1"}, res.Imported)
	assert.Equal(t, []string{"a1"}, res.Skipped)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Errors)

	a, ok := cat.Registry().Get("a1")
	require.True(t, ok)
	assert.Equal(t, TypeAnalyst, a.Type)

	byType := cat.Registry().List(registry.Filter{Index: IndexType, Value: string(TypeTrader)})
	assert.Empty(t, byType)
	require.NoError(t, cat.Registry().CheckInvariants())
}

func TestImport_UpdateExistingReindexes(t *testing.T) {
	cat := NewCatalog(NewRegistry(), nil)
	ctx := context.Background()

	_, err := cat.Import(ctx, []byte("agents:\n  - {id: a1, agent_type: analyst, capabilities: [x]}\n"), declarative.Options{})
	require.NoError(t, err)
	res, err := cat.Import(ctx, []byte("agents:\n  - {id: a1, agent_type: trader, capabilities: [y], status: active}\n"),
		declarative.Options{UpdateExisting: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, res.Updated)

	reg := cat.Registry()
	assert.Empty(t, reg.List(registry.Filter{Index: IndexType, Value: "analyst"}))
	assert.Len(t, reg.List(registry.Filter{Index: IndexType, Value: "trader"}), 1)
	assert.Empty(t, reg.List(registry.Filter{Index: IndexCapability, Value: "x"}))
	assert.Len(t, reg.List(registry.Filter{Index: registry.IndexStatus, Value: "active"}), 1)
	require.NoError(t, reg.CheckInvariants())
}
