package datasources_test

//go:generate mockgen -source=source.go -destination=mocks/adapter_mock.go -package=mocks Adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/circuitbreaker"
	"github.com/mbd888/agentplatform/internal/datasources"
	"github.com/mbd888/agentplatform/internal/datasources/mocks"
	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/events"
)

var (
	admin = catalog.Scope{Admin: true}
	acme  = catalog.Scope{TenantID: "acme"}
	beta  = catalog.Scope{TenantID: "beta"}
)

const seed = `
data_sources:
  tushare:
    display_name: Tushare
    priority: 3
    supported_markets: [cn]
    supported_features: [stock_list, kline, news]
  akshare:
    displayName: AKShare
    priority: 2
    supportedMarkets: [cn, hk, us]
    supported_features: [stock_list, kline]
  baostock:
    priority: 1
    supported_markets: [cn]
  dormant:
    priority: 9
    is_active: false
    supported_markets: [cn]
  private:
    tenant_id: beta
    priority: 5
    supported_markets: [cn]
`

type fixture struct {
	m        *datasources.Manager
	adapters map[string]*mocks.MockAdapter
	rec      *events.Recorder
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		adapters: map[string]*mocks.MockAdapter{},
		rec:      events.NewRecorder(64),
		clock:    time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	breaker := circuitbreaker.New(1, time.Minute).WithClock(func() time.Time { return f.clock })
	f.m = datasources.NewManager(datasources.NewCatalog(datasources.NewRegistry(), nil), nil).
		WithBreaker(breaker).
		WithEvents(f.rec).
		WithClock(func() time.Time { return f.clock })

	res, err := f.m.Sources().Import(context.Background(), []byte(seed), declarative.Options{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	for _, id := range []string{"tushare", "akshare", "baostock", "private"} {
		a := mocks.NewMockAdapter(ctrl)
		a.EXPECT().Name().Return(id).AnyTimes()
		f.adapters[id] = a
		require.NoError(t, f.m.Factories().Register(id, func(*datasources.Source) (datasources.Adapter, error) { return a, nil }))
	}
	return f
}

// checkAll marks every mocked source available except those listed.
func (f *fixture) checkAll(t *testing.T, down ...string) {
	t.Helper()
	for id, a := range f.adapters {
		up := true
		for _, d := range down {
			if d == id {
				up = false
			}
		}
		a.EXPECT().IsAvailable(gomock.Any()).Return(up)
	}
	f.m.CheckAll(context.Background())
}

func ids(cands []datasources.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Source.ID
	}
	return out
}

func TestManager_CheckAll(t *testing.T) {
	f := newFixture(t)
	f.rec.Events()
	f.checkAll(t, "baostock")

	reg := f.m.Sources().Registry()
	tushare, _ := reg.Get("tushare")
	assert.Equal(t, datasources.StatusAvailable, tushare.Status)
	require.NotNil(t, tushare.LastCheck)
	assert.Equal(t, f.clock, *tushare.LastCheck)

	bao, _ := reg.Get("baostock")
	assert.Equal(t, datasources.StatusUnavailable, bao.Status)
	assert.Equal(t, datasources.UnavailableMessage, bao.ErrorMessage)

	dormant, _ := reg.Get("dormant")
	assert.Equal(t, datasources.StatusRegistered, dormant.Status, "disabled sources are not checked")
	require.NoError(t, reg.CheckInvariants())

	changed := 0
	for _, e := range f.rec.Events() {
		if e.Type == events.TypeStatusChanged {
			changed++
		}
	}
	assert.Equal(t, 4, changed)
}

func TestManager_AvailableAdapters(t *testing.T) {
	f := newFixture(t)
	f.checkAll(t, "baostock")
	ctx := context.Background()

	assert.Equal(t, []string{"tushare", "akshare"}, ids(f.m.AvailableAdapters(ctx, acme, "cn", nil)))
	assert.Equal(t, []string{"private", "tushare", "akshare"}, ids(f.m.AvailableAdapters(ctx, beta, "cn", nil)))
	assert.Equal(t, []string{"akshare"}, ids(f.m.AvailableAdapters(ctx, acme, "us", nil)))
	assert.Equal(t, []string{"akshare", "tushare"}, ids(f.m.AvailableAdapters(ctx, acme, "cn", []string{"akshare", "unknown"})))
	assert.Len(t, f.m.AvailableAdapters(ctx, admin, "", nil), 3)
}

func TestManager_FetchFallsBack(t *testing.T) {
	f := newFixture(t)
	f.checkAll(t)
	ctx := context.Background()
	q := datasources.Query{Operation: "kline", Params: map[string]any{"code": "600519"}}

	f.adapters["tushare"].EXPECT().Fetch(gomock.Any(), q).Return(nil, errors.New("rate limited"))
	f.adapters["akshare"].EXPECT().Fetch(gomock.Any(), q).Return([]map[string]any{{"close": 1700.5}}, nil)

	res, err := f.m.Fetch(ctx, acme, q, "cn", nil)
	require.NoError(t, err)
	assert.Equal(t, "akshare", res.SourceID)
	assert.Equal(t, "akshare", res.Adapter)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Error, "rate limited")

	// tushare's circuit is now open, so the next call goes straight to akshare.
	f.adapters["akshare"].EXPECT().Fetch(gomock.Any(), q).Return([]any{1}, nil)
	res, err = f.m.Fetch(ctx, acme, q, "cn", nil)
	require.NoError(t, err)
	assert.Equal(t, "akshare", res.SourceID)
	assert.Contains(t, res.Attempts[0].Error, circuitbreaker.ErrOpen.Error())
}

func TestManager_FetchEmptyAndExhausted(t *testing.T) {
	f := newFixture(t)
	f.checkAll(t)
	ctx := context.Background()

	news := datasources.Query{Operation: "news"}
	f.adapters["tushare"].EXPECT().Fetch(gomock.Any(), news).Return([]any{}, nil)
	// baostock declares no features, so it is tried for every operation.
	f.adapters["baostock"].EXPECT().Fetch(gomock.Any(), news).Return(nil, errors.New("unsupported"))
	_, err := f.m.Fetch(ctx, acme, news, "", nil)
	require.ErrorIs(t, err, datasources.ErrNoneAvailable)
	assert.ErrorIs(t, err, datasources.ErrEmptyResult)

	_, err = f.m.Fetch(ctx, acme, datasources.Query{Operation: "order_book"}, "cn", []string{"akshare"})
	assert.ErrorIs(t, err, datasources.ErrNoneAvailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen, "baostock's circuit opened on the previous failure")

	_, err = f.m.Fetch(ctx, acme, datasources.Query{}, "", nil)
	assert.ErrorIs(t, err, datasources.ErrInvalidRequest)
}

func TestManager_MissingFactory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Sources().Create(ctx, admin, &datasources.Source{ID: "orphan", Name: "orphan", Type: datasources.TypeCrypto, Enabled: true})
	require.NoError(t, err)

	ok, err := f.m.CheckAvailability(ctx, "orphan")
	assert.False(t, ok)
	require.ErrorIs(t, err, datasources.ErrNoAdapter)
	orphan, _ := f.m.Sources().Registry().Get("orphan")
	assert.Equal(t, datasources.StatusError, orphan.Status)

	crypto := mocks.NewMockAdapter(gomock.NewController(t))
	crypto.EXPECT().IsAvailable(gomock.Any()).Return(true)
	require.NoError(t, f.m.Factories().Register(string(datasources.TypeCrypto), func(*datasources.Source) (datasources.Adapter, error) {
		return crypto, nil
	}))
	ok, err = f.m.CheckAvailability(ctx, "orphan")
	require.NoError(t, err)
	assert.True(t, ok, "falls back to the factory registered for the source type")

	_, err = f.m.CheckAvailability(ctx, "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAvailabilityTimer(t *testing.T) {
	f := newFixture(t)
	for _, a := range f.adapters {
		a.EXPECT().IsAvailable(gomock.Any()).Return(true).MinTimes(1)
	}
	timer := datasources.NewAvailabilityTimer(f.m, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go timer.Start(ctx)
	require.Eventually(t, func() bool {
		s, _ := f.m.Sources().Registry().Get("baostock")
		return s.Status == datasources.StatusAvailable
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, timer.Running, time.Second, 5*time.Millisecond)

	timer.Stop()
	require.Eventually(t, func() bool { return !timer.Running() }, time.Second, 5*time.Millisecond)
}

func TestParse(t *testing.T) {
	src, err := datasources.Parse(declarative.Fields{"id": "x", "isActive": false, "priority": 4})
	require.NoError(t, err)
	assert.Equal(t, datasources.TypeStock, src.Type)
	assert.Equal(t, "x", src.DisplayName)
	assert.False(t, src.Enabled)
	assert.Equal(t, 4, src.Priority)

	_, err = datasources.Parse(declarative.Fields{"source_id": "y", "source_type": "weather"})
	var verr *declarative.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "source_type", verr.Field)
}
