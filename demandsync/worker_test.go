package demandsync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/shipments_backend/config"
	"bitbucket.org/mmdatafocus/shipments_backend/moysklad"
)

type fakeUpserter struct {
	mu   sync.Mutex
	rows []DemandRow
}

func (f *fakeUpserter) UpsertBatch(ctx context.Context, rows []DemandRow) UpsertCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return UpsertCounts{Demands: len(rows)}
}

func newTestSyncer(t *testing.T, store JobStore) (*Syncer, *fakeUpserter) {
	t.Helper()
	t.Setenv("MOYSKLAD_API_BASE_URL", "https://api.test.local/api/remap/1.2")
	t.Setenv("MOYSKLAD_RATE_LIMIT_PER_SEC", "1000")
	t.Setenv("MOYSKLAD_MAX_RETRIES", "3")
	t.Setenv("MOYSKLAD_RETRY_BASE_DELAY_MS", "1")

	client, err := moysklad.NewClient("test-token")
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	upserter := &fakeUpserter{}
	return &Syncer{
		store:    store,
		logger:   config.GetLogger(),
		client:   client,
		upserter: upserter,
		workers:  2,
	}, upserter
}

func TestSyncerRunCompletes(t *testing.T) {
	store := NewMemoryJobStore()
	syncer, upserter := newTestSyncer(t, store)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("offset") != "0" {
				return httpmock.NewStringResponse(200, `{"meta":{},"rows":[]}`), nil
			}
			body := `{"meta":{"size":2},"rows":[
				{"id":"d-1","name":"00001","sum":"100000","overhead":{"sum":"100"},
				 "agent":{"meta":{"type":"counterparty","href":"https://x/entity/counterparty/a-1"},"name":"ACME"},
				 "positions":{"rows":[
					{"id":"p-1","quantity":"2","price":"30000",
					 "assortment":{"meta":{"href":"https://x/entity/product/prod-1"},"name":"Widget"}}
				 ]}},
				{"id":"d-2","name":"00002","sum":"50000"}
			]}`
			return httpmock.NewStringResponse(200, body), nil
		})
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/report/stock/byoperation",
		httpmock.NewStringResponder(200, `{"rows":[{"positions":[
			{"quantity":2,"cost":10000,
			 "assortment":{"meta":{"href":"https://x/entity/product/prod-1"}}}
		]}]}`))

	job := store.Create()
	syncer.Run(context.Background(), job.ID, date(2024, 1, 1), date(2024, 1, 31))

	got, ok := store.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 2, got.Total)

	require.Len(t, upserter.rows, 2)
	byID := map[string]DemandRow{}
	for _, row := range upserter.rows {
		byID[row.Demand.ID] = row
	}

	first := byID["d-1"]
	assert.Equal(t, "ACME", first.Demand.AgentName)
	assert.Equal(t, int64(100000), first.Demand.Sum)
	assert.Equal(t, int64(20000), first.Demand.CostSum)
	assert.Equal(t, int64(100), first.Demand.OverheadSum)
	require.Len(t, first.Positions, 1)
	assert.Equal(t, int64(60000), first.Positions[0].Amount)
	assert.Equal(t, int64(20000), first.Positions[0].Cost)
	assert.Equal(t, int64(60000-20000-100), first.Positions[0].Profit)

	second := byID["d-2"]
	assert.Equal(t, "Unknown", second.Demand.AgentName)
	assert.Empty(t, second.Positions)
}

func TestSyncerRunTwiceProducesIdenticalRows(t *testing.T) {
	store := NewMemoryJobStore()
	syncer, upserter := newTestSyncer(t, store)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("offset") != "0" {
				return httpmock.NewStringResponse(200, `{"meta":{},"rows":[]}`), nil
			}
			body := `{"meta":{"size":1},"rows":[
				{"id":"d-1","name":"00001","sum":"100000","overhead":{"sum":"100"},
				 "agent":{"meta":{"type":"counterparty","href":"https://x/entity/counterparty/a-1"},"name":"ACME"},
				 "positions":{"rows":[
					{"id":"p-1","quantity":"2","price":"30000",
					 "assortment":{"meta":{"href":"https://x/entity/product/prod-1"},"name":"Widget"}}
				 ]}}
			]}`
			return httpmock.NewStringResponse(200, body), nil
		})
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/report/stock/byoperation",
		httpmock.NewStringResponder(200, `{"rows":[{"positions":[
			{"quantity":2,"cost":10000,
			 "assortment":{"meta":{"href":"https://x/entity/product/prod-1"}}}
		]}]}`))

	for i := 0; i < 2; i++ {
		job := store.Create()
		syncer.Run(context.Background(), job.ID, date(2024, 1, 1), date(2024, 1, 31))

		got, ok := store.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, JobStatusCompleted, got.Status)
	}

	// Both runs over unchanged upstream data hand the reconciler the same
	// row content; combined with the replace-style upsert the stored state
	// converges instead of duplicating or drifting.
	require.Len(t, upserter.rows, 2)
	assert.Equal(t, upserter.rows[0], upserter.rows[1])
}

func TestSyncerRunFailsOnFetchError(t *testing.T) {
	store := NewMemoryJobStore()
	syncer, upserter := newTestSyncer(t, store)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		httpmock.NewStringResponder(500, "upstream down"))

	job := store.Create()
	syncer.Run(context.Background(), job.ID, date(2024, 1, 1), date(2024, 1, 31))

	got, ok := store.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Message)
	assert.Empty(t, upserter.rows)
}

func TestSyncerRunTreatsCostLookupFailureAsZero(t *testing.T) {
	store := NewMemoryJobStore()
	syncer, upserter := newTestSyncer(t, store)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("offset") != "0" {
				return httpmock.NewStringResponse(200, `{"meta":{},"rows":[]}`), nil
			}
			body := `{"meta":{},"rows":[
				{"id":"d-1","name":"00001","sum":"60000",
				 "positions":{"rows":[{"id":"p-1","quantity":"1","price":"60000"}]}}
			]}`
			return httpmock.NewStringResponse(200, body), nil
		})
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/report/stock/byoperation",
		httpmock.NewStringResponder(404, "no report"))

	job := store.Create()
	syncer.Run(context.Background(), job.ID, date(2024, 1, 1), date(2024, 1, 31))

	got, _ := store.Get(job.ID)
	assert.Equal(t, JobStatusCompleted, got.Status)

	require.Len(t, upserter.rows, 1)
	assert.Equal(t, int64(0), upserter.rows[0].Demand.CostSum)
	assert.Equal(t, int64(60000), upserter.rows[0].Demand.ProfitSum)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
