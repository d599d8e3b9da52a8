package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/events"
)

type screener struct {
	Base
	activated   map[string]any
	deactivated bool
	failOn      string
}

func (s *screener) Activate(_ context.Context, cfg map[string]any) error {
	if s.failOn == "activate" {
		return errors.New("boom")
	}
	s.activated = cfg
	return nil
}

func (s *screener) Deactivate(context.Context) error {
	s.deactivated = true
	return nil
}

func (s *screener) Execute(_ context.Context, c Capability, input map[string]any) (any, error) {
	return map[string]any{"capability": string(c), "symbols": input["symbols"]}, nil
}

var (
	admin = catalog.Scope{Admin: true}
	acme  = catalog.Scope{TenantID: "acme"}
	beta  = catalog.Scope{TenantID: "beta"}
)

const seed = `
plugins:
  - plugin_id: core
    entry_point: builtin.core
    status: active
  - plugin_id: screener
    entry_point: builtin.screener
    capabilities: [screening, analysis]
    dependencies: [core]
    plugin_config: {threshold: 5}
  - plugin_id: orphan
    entry_point: builtin.orphan
    dependencies: [missing]
  - plugin_id: needs-inactive
    entry_point: builtin.screener
    dependencies: [screener]
  - plugin_id: off
    entry_point: builtin.screener
    enabled: false
  - plugin_id: ghost
    entry_point: nowhere
`

func newTestManager(t *testing.T) (*Manager, *screener, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder(64)
	m := NewManager(NewCatalog(NewRegistry(), nil), nil).WithEvents(rec)
	res, err := m.Plugins().Import(context.Background(), []byte(seed), declarative.Options{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	impl := &screener{}
	require.NoError(t, m.Factories().Register("builtin.screener", func(*Metadata) (Plugin, error) { return impl, nil }))
	return m, impl, rec
}

func TestManager_LoadChecksDependencies(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, acme, "orphan", nil)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	_, err = m.Load(ctx, acme, "needs-inactive", nil)
	assert.ErrorIs(t, err, ErrDependencyUnavailable, "screener is registered but not active")
	_, err = m.Load(ctx, acme, "off", nil)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = m.Load(ctx, acme, "unknown", nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = m.Load(ctx, catalog.Scope{}, "screener", nil)
	assert.ErrorIs(t, err, catalog.ErrTenantRequired)

	_, err = m.Load(ctx, acme, "ghost", nil)
	assert.ErrorIs(t, err, ErrNoFactory)
	ghost, _ := m.Plugins().Registry().Get("ghost")
	assert.Equal(t, StatusError, ghost.Status)
	assert.Contains(t, ghost.ErrorMessage, "nowhere")
}

func TestManager_Lifecycle(t *testing.T) {
	m, impl, rec := newTestManager(t)
	ctx := context.Background()
	rec.Events()

	inst, err := m.Load(ctx, acme, "screener", map[string]any{"market": "us"})
	require.NoError(t, err)
	assert.Equal(t, InstanceLoaded, inst.Status)
	assert.Equal(t, map[string]any{"threshold": 5, "market": "us"}, inst.Config)
	meta, _ := m.Plugins().Registry().Get("screener")
	assert.Equal(t, StatusLoaded, meta.Status)

	_, err = m.Execute(ctx, acme, inst.ID, CapabilityScreening, nil)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = m.Activate(ctx, beta, inst.ID)
	assert.ErrorIs(t, err, catalog.ErrForbidden)

	active, err := m.Activate(ctx, acme, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceActive, active.Status)
	assert.Equal(t, "us", impl.activated["market"])
	meta, _ = m.Plugins().Registry().Get("screener")
	assert.Equal(t, StatusActive, meta.Status)

	out, err := m.Execute(ctx, acme, inst.ID, CapabilityScreening, map[string]any{"symbols": []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, "screening", out.(map[string]any)["capability"])
	_, err = m.Execute(ctx, acme, inst.ID, CapabilityTrading, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	// The dependent plugin can load now that screener is active.
	dependent, err := m.Load(ctx, acme, "needs-inactive", nil)
	require.NoError(t, err)
	require.NoError(t, m.Unload(ctx, acme, dependent.ID))

	inactive, err := m.Deactivate(ctx, acme, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, InstanceInactive, inactive.Status)
	assert.True(t, impl.deactivated)

	require.NoError(t, m.Unload(ctx, acme, inst.ID))
	_, err = m.GetInstance(acme, inst.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, m.Plugins().Registry().CheckInvariants())

	var changes []string
	for _, e := range rec.Events() {
		if e.Resource == "plugins" && e.ID == "screener" {
			changes = append(changes, e.Data["to"].(string))
		}
	}
	assert.Equal(t, []string{"loaded", "active", "inactive"}, changes)
}

func TestManager_ActivateFailure(t *testing.T) {
	m, impl, _ := newTestManager(t)
	ctx := context.Background()
	impl.failOn = "activate"

	inst, err := m.Load(ctx, acme, "screener", nil)
	require.NoError(t, err)
	failed, err := m.Activate(ctx, acme, inst.ID)
	require.ErrorIs(t, err, ErrLifecycle)
	assert.Equal(t, InstanceError, failed.Status)
	assert.Equal(t, "boom", failed.ErrorMessage)
}

func TestManager_ListInstances(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, acme, "screener", nil)
	require.NoError(t, err)
	_, err = m.Load(ctx, beta, "screener", nil)
	require.NoError(t, err)

	assert.Len(t, m.ListInstances(acme, "", ""), 1)
	assert.Len(t, m.ListInstances(acme, "screener", ""), 1)
	assert.Len(t, m.ListInstances(admin, "screener", InstanceLoaded), 2)
	assert.Empty(t, m.ListInstances(admin, "", InstanceActive))
}

func TestBase_NoOps(t *testing.T) {
	var p Plugin = Base{}
	ctx := context.Background()
	assert.NoError(t, p.Activate(ctx, nil))
	assert.NoError(t, p.Deactivate(ctx))
	_, err := p.Execute(ctx, CapabilityCustom, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParse(t *testing.T) {
	m, err := Parse(declarative.Fields{"id": "p1", "entryPoint": "pkg.main", "capabilities": []any{"analysis", "telepathy"}})
	require.NoError(t, err)
	assert.Equal(t, "p1", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.True(t, m.Enabled)
	assert.Equal(t, []Capability{CapabilityAnalysis, CapabilityCustom}, m.Capabilities)

	_, err = Parse(declarative.Fields{"plugin_id": "p2"})
	var verr *declarative.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "entry_point", verr.Field)
}
