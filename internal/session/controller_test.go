package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbwc-sync/internal/archive"
	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/models"
	"qbwc-sync/internal/queue"
	"qbwc-sync/internal/ratelimit"
	"qbwc-sync/internal/reconcile"
	"qbwc-sync/internal/store"
	"qbwc-sync/internal/translate"
)

const vendorResponse = `<?xml version="1.0" ?>
<QBXML><QBXMLMsgsRs><VendorQueryRs statusCode="0">
  <VendorRet><ListID>V1</ListID><Name>Acme</Name><IsActive>true</IsActive><Balance>10.00</Balance></VendorRet>
  <VendorRet><ListID>V2</ListID><Name>Globex</Name><IsActive>true</IsActive><Balance>0</Balance></VendorRet>
</VendorQueryRs></QBXMLMsgsRs></QBXML>`

const emptyResponse = `<QBXML><QBXMLMsgsRs/></QBXML>`

type harness struct {
	ctrl    *Controller
	store   *store.RedisStore
	queue   *queue.SessionQueue
	auditor *memAuditor
}

type memAuditor struct {
	mu      sync.Mutex
	events  []string
	results int
}

func (m *memAuditor) RecordSessionEvent(_ context.Context, _ models.Session, event, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAuditor) RecordResults(_ context.Context, _ string, results []models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results += len(results)
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{RetryAfter: time.Second}, nil
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewRedisStore(client, store.BreakerSettings{}, nil)
	q := queue.NewSessionQueue(client, time.Minute)
	aud := &memAuditor{}
	deps := Deps{
		Queue:       q,
		Catalog:     catalog.Default(),
		Translator:  translate.NewRegistry(nil),
		Reconciler:  reconcile.New(st, reconcile.WithWorkers(4)),
		Credentials: Credentials{User: "testuser", Password: "testpass"},
		Auditor:     aud,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &harness{ctrl: NewController(deps), store: st, queue: q, auditor: aud}
}

// round dispatches the next job and answers it with raw.
func (h *harness) round(t *testing.T, token, raw string) (models.QueryJob, int) {
	t.Helper()
	ctx := context.Background()
	job, ok, err := h.ctrl.NextJob(ctx, token)
	require.NoError(t, err)
	require.True(t, ok, "expected a job")
	percent, err := h.ctrl.SubmitResponse(ctx, token, raw)
	require.NoError(t, err)
	return job, percent
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := h.ctrl.Progress(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.StateAuthenticated, p.State)
	assert.Equal(t, 5, p.TotalJobs)
	assert.Equal(t, 5, p.Remaining)
	assert.Equal(t, 0, p.PercentDone)

	_, err = h.ctrl.Authenticate(ctx, "testuser", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = h.ctrl.Authenticate(ctx, "someone", "testpass")
	assert.ErrorIs(t, err, ErrAuthFailed)

	p, err = h.ctrl.Progress(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Remaining, "failed authentication must not touch existing sessions")
	assert.Equal(t, []string{"authenticated"}, h.auditor.events)
}

func TestAuthenticateThrottled(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Throttle = denyAll{} })
	_, err := h.ctrl.Authenticate(context.Background(), "testuser", "testpass")
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestJobsFollowCatalogOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	var got []string
	for {
		job, ok, err := h.ctrl.NextJob(ctx, token)
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.NotEmpty(t, job.Payload)
		got = append(got, job.EntityType)
		_, err = h.ctrl.SubmitResponse(ctx, token, emptyResponse)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"Customer", "Employee", "Vendor", "Item", "PriceLevel"}, got)

	p, _ := h.ctrl.Progress(ctx, token)
	assert.Equal(t, models.StateDrained, p.State)
}

func TestProgressAfterThreeResponses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	h.round(t, token, emptyResponse)
	h.round(t, token, emptyResponse)
	job, percent := h.round(t, token, vendorResponse)
	assert.Equal(t, models.EntityVendor, job.EntityType)
	assert.Equal(t, 60, percent)

	rec, found, err := h.store.Get(ctx, "Vendors", "V1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Acme", rec["Name"])
	assert.Equal(t, 2, h.auditor.results)
}

func TestProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	last := 0
	for i := 0; i < 5; i++ {
		_, percent := h.round(t, token, emptyResponse)
		assert.GreaterOrEqual(t, percent, last)
		last = percent
	}
	assert.Equal(t, 100, last)
}

func TestSubmitWithoutDispatchIsSequenceError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	percent, err := h.ctrl.SubmitResponse(ctx, token, vendorResponse)
	assert.ErrorIs(t, err, ErrProtocolSequence)
	assert.Equal(t, 0, percent)

	h.round(t, token, emptyResponse)
	percent, err = h.ctrl.SubmitResponse(ctx, token, vendorResponse)
	assert.ErrorIs(t, err, ErrProtocolSequence)
	assert.Equal(t, 20, percent, "progress must not move on a sequence error")

	_, found, err := h.store.Get(ctx, "Vendors", "V1")
	require.NoError(t, err)
	assert.False(t, found, "nothing may be reconciled on a sequence error")
}

func TestReauthenticationStartsFreshSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	first, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)
	h.round(t, first, emptyResponse)
	h.round(t, first, emptyResponse)

	second, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	job, ok, err := h.ctrl.NextJob(ctx, second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.EntityCustomer, job.EntityType)

	p, _ := h.ctrl.Progress(ctx, first)
	assert.Equal(t, 3, p.Remaining, "sessions must not share a queue")
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < 5; j++ {
				if _, ok, err := h.ctrl.NextJob(ctx, token); err != nil || !ok {
					errs <- fmt.Errorf("next job %d: ok=%v err=%v", j, ok, err)
					return
				}
				if _, err := h.ctrl.SubmitResponse(ctx, token, emptyResponse); err != nil {
					errs <- err
					return
				}
			}
			if _, ok, _ := h.ctrl.NextJob(ctx, token); ok {
				errs <- errors.New("expected drained session")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)
	h.round(t, token, vendorResponse)
	h.round(t, token, emptyResponse)
	h.round(t, token, vendorResponse)

	msg, err := h.ctrl.Close(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "OK", msg)

	_, found, _ := h.store.Get(ctx, "Vendors", "V1")
	assert.True(t, found, "committed records survive close")

	_, _, err = h.ctrl.NextJob(ctx, token)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = h.ctrl.SubmitResponse(ctx, token, emptyResponse)
	assert.ErrorIs(t, err, ErrSessionClosed)

	msg, err = h.ctrl.Close(ctx, "never-issued")
	require.NoError(t, err)
	assert.Equal(t, "OK", msg)
	assert.Contains(t, h.auditor.events, "closed")
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, string) (map[string]any, bool, error) {
	return nil, false, store.ErrCircuitOpen
}
func (brokenStore) Put(context.Context, string, string, map[string]any) error { return nil }
func (brokenStore) Update(context.Context, string, string, map[string]any) error {
	return nil
}

func TestStoreFailureIsReportedNotRaised(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(d *Deps) { d.Reconciler = reconcile.New(brokenStore{}) })
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	h.round(t, token, emptyResponse)
	h.round(t, token, emptyResponse)
	_, percent := h.round(t, token, vendorResponse)
	assert.Equal(t, 60, percent)

	msg, err := h.ctrl.LastError(ctx, token)
	require.NoError(t, err)
	assert.Contains(t, msg, "2 of 2 Vendor records failed")
}

func TestConnectionError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)

	reply, err := h.ctrl.ConnectionError(ctx, token, "0x80040408", "Could not start QuickBooks")
	require.NoError(t, err)
	assert.Equal(t, "done", reply)

	msg, _ := h.ctrl.LastError(ctx, token)
	assert.Equal(t, "connector error 0x80040408: Could not start QuickBooks", msg)
}

func TestResponsesAreArchived(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h := newHarness(t, func(d *Deps) { d.Archive = archive.NewLocal(dir) })
	token, err := h.ctrl.Authenticate(ctx, "testuser", "testpass")
	require.NoError(t, err)
	h.ctrl.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	h.round(t, token, emptyResponse)
	assert.FileExists(t, fmt.Sprintf("%s/2024/03/01/%s/Customer-%d.xml", dir, token, h.ctrl.now().UnixNano()))
}

func TestUnknownSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, _, err := h.ctrl.NextJob(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = h.ctrl.Progress(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
}
