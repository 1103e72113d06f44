package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/events"
	"qbwc-sync/internal/models"
	"qbwc-sync/internal/store"
)

var vendorDesc = catalog.Descriptor{
	EntityType: models.EntityVendor,
	Collection: "Vendors",
	KeyField:   "ListID",
	Fields:     []string{"Name", "Balance", "Address"},
}

func newRedisStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, store.BreakerSettings{}, nil)
}

func fixedClock(ts string) func() time.Time {
	t, _ := time.Parse(time.RFC3339, ts)
	return func() time.Time { return t }
}

func seq(recs ...models.Record) iter.Seq[models.Record] {
	return slices.Values(recs)
}

func TestReconcileInsertThenUnchanged(t *testing.T) {
	ctx := context.Background()
	st := newRedisStore(t)
	eng := New(st, WithClock(fixedClock("2024-03-01T10:00:00Z")))

	rec := models.Record{Type: models.EntityVendor, Key: "V1", Fields: map[string]any{
		"ListID":  "V1",
		"Name":    "Acme",
		"Balance": 10,
		"Address": map[string]any{"City": "Austin", "Addr1": nil},
	}}

	res := eng.Reconcile(ctx, vendorDesc, rec)
	require.Equal(t, models.StatusInserted, res.Status, res.Error)

	stored, found, err := st.Get(ctx, "Vendors", "V1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2024-03-01T10:00:00Z", stored[models.FieldCreatedAt])
	assert.Equal(t, "2024-03-01T10:00:00Z", stored[models.FieldUpdatedAt])

	res = eng.Reconcile(ctx, vendorDesc, rec)
	assert.Equal(t, models.StatusUnchanged, res.Status)
	assert.Empty(t, res.Changed)
}

func TestReconcilePartialUpdate(t *testing.T) {
	ctx := context.Background()
	st := newRedisStore(t)
	require.NoError(t, st.Put(ctx, "Vendors", "1", map[string]any{
		"ListID":              "1",
		"Name":                "A",
		"Balance":             10,
		models.FieldCreatedAt: "2024-01-01T00:00:00Z",
		models.FieldUpdatedAt: "2024-01-01T00:00:00Z",
	}))

	eng := New(st, WithClock(fixedClock("2024-03-01T10:00:00Z")))
	res := eng.Reconcile(ctx, vendorDesc, models.Record{Type: models.EntityVendor, Key: "1", Fields: map[string]any{
		"ListID":  "1",
		"Name":    "A",
		"Balance": 20,
	}})
	require.Equal(t, models.StatusUpdated, res.Status, res.Error)
	assert.Equal(t, []string{"Balance"}, res.Changed)

	stored, _, err := st.Get(ctx, "Vendors", "1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, stored["Balance"])
	assert.Equal(t, "A", stored["Name"])
	assert.Equal(t, "2024-01-01T00:00:00Z", stored[models.FieldCreatedAt])
	assert.Equal(t, "2024-03-01T10:00:00Z", stored[models.FieldUpdatedAt])
}

func TestReconcileNestedDeepEquality(t *testing.T) {
	ctx := context.Background()
	st := newRedisStore(t)
	eng := New(st)

	rec := func(city string) models.Record {
		return models.Record{Type: models.EntityVendor, Key: "V9", Fields: map[string]any{
			"ListID":  "V9",
			"Address": map[string]any{"City": city, "State": "TX"},
		}}
	}
	require.Equal(t, models.StatusInserted, eng.Reconcile(ctx, vendorDesc, rec("Austin")).Status)
	assert.Equal(t, models.StatusUnchanged, eng.Reconcile(ctx, vendorDesc, rec("Austin")).Status)

	res := eng.Reconcile(ctx, vendorDesc, rec("Dallas"))
	assert.Equal(t, models.StatusUpdated, res.Status)
	assert.Equal(t, []string{"Address"}, res.Changed)
}

func TestReconcileEqualOverride(t *testing.T) {
	ctx := context.Background()
	st := newRedisStore(t)
	desc := vendorDesc
	desc.Equal = map[string]catalog.EqualFunc{"Balance": catalog.FloatEqual(0.005)}
	eng := New(st)

	base := models.Record{Type: models.EntityVendor, Key: "V2", Fields: map[string]any{"ListID": "V2", "Balance": 10.001}}
	require.Equal(t, models.StatusInserted, eng.Reconcile(ctx, desc, base).Status)

	near := models.Record{Type: models.EntityVendor, Key: "V2", Fields: map[string]any{"ListID": "V2", "Balance": 10.003}}
	assert.Equal(t, models.StatusUnchanged, eng.Reconcile(ctx, desc, near).Status)
}

func TestDiffFallsBackToSortedRecordKeys(t *testing.T) {
	desc := catalog.Descriptor{EntityType: models.EntityItem, Collection: "Items", KeyField: "ListID"}
	stored := map[string]any{"ListID": "1", "Name": "Old", "Price": 5.0, models.FieldUpdatedAt: "x"}
	incoming := map[string]any{"ListID": "1", "Name": "New", "Price": 6.0, "Type": "Service", models.FieldUpdatedAt: "y"}

	assert.Equal(t, []string{"Name", "Price", "Type"}, Diff(desc, stored, incoming))
}

type failingStore struct {
	store.EntityStore
	failKeys map[string]bool
}

func (f failingStore) Get(ctx context.Context, collection, key string) (map[string]any, bool, error) {
	if f.failKeys[key] {
		return nil, false, store.ErrCircuitOpen
	}
	return f.EntityStore.Get(ctx, collection, key)
}

func TestReconcileAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := failingStore{EntityStore: newRedisStore(t), failKeys: map[string]bool{"bad": true}}
	eng := New(st, WithWorkers(3))

	var recs []models.Record
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("V%d", i)
		recs = append(recs, models.Record{Type: models.EntityVendor, Key: key, Fields: map[string]any{"ListID": key, "Name": key}})
	}
	recs = append(recs, models.Record{Type: models.EntityVendor, Key: "bad", Fields: map[string]any{"ListID": "bad"}})

	results := eng.ReconcileAll(ctx, vendorDesc, seq(recs...))
	require.Len(t, results, 11)
	tally := models.Tally(results)
	assert.Equal(t, 10, tally[models.StatusInserted])
	assert.Equal(t, 1, tally[models.StatusError])
	for _, r := range results {
		if r.Key == "bad" {
			assert.Contains(t, r.Error, "circuit open")
		}
	}
}

func TestReconcileAllIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := New(newRedisStore(t))
	recs := []models.Record{
		{Type: models.EntityVendor, Key: "A", Fields: map[string]any{"ListID": "A", "Balance": 1.5}},
		{Type: models.EntityVendor, Key: "B", Fields: map[string]any{"ListID": "B", "Balance": 2}},
	}
	first := models.Tally(eng.ReconcileAll(ctx, vendorDesc, seq(recs...)))
	assert.Equal(t, 2, first[models.StatusInserted])

	second := models.Tally(eng.ReconcileAll(ctx, vendorDesc, seq(recs...)))
	assert.Equal(t, 2, second[models.StatusUnchanged])
}

// stallingStore blocks reads until the caller's context ends.
type stallingStore struct{ store.EntityStore }

func (stallingStore) Get(ctx context.Context, _, _ string) (map[string]any, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestReconcileAllDeadline(t *testing.T) {
	eng := New(stallingStore{}, WithTimeout(20*time.Millisecond), WithWorkers(1))

	recs := []models.Record{
		{Type: models.EntityVendor, Key: "A", Fields: map[string]any{"ListID": "A"}},
		{Type: models.EntityVendor, Key: "B", Fields: map[string]any{"ListID": "B"}},
	}
	results := eng.ReconcileAll(context.Background(), vendorDesc, seq(recs...))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.StatusError, r.Status)
		assert.Contains(t, r.Error, "deadline")
	}
}

func TestReconcileMissingKey(t *testing.T) {
	res := New(newRedisStore(t)).Reconcile(context.Background(), vendorDesc, models.Record{Type: models.EntityVendor})
	assert.Equal(t, models.StatusError, res.Status)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestReconcilePublishesChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{fail: true}
	eng := New(newRedisStore(t), WithPublisher(pub))

	rec := models.Record{Type: models.EntityVendor, Key: "P", Fields: map[string]any{"ListID": "P", "Name": "one"}}
	assert.Equal(t, models.StatusInserted, eng.Reconcile(ctx, vendorDesc, rec).Status)
	assert.Equal(t, models.StatusUnchanged, eng.Reconcile(ctx, vendorDesc, rec).Status)
	rec.Fields["Name"] = "two"
	assert.Equal(t, models.StatusUpdated, eng.Reconcile(ctx, vendorDesc, rec).Status)

	assert.Equal(t, []string{events.TopicRecordInserted, events.TopicRecordUpdated}, pub.topics)
}
