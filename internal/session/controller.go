// Package session implements the connector protocol state machine: it hands
// out one query per round trip, feeds each response through translation and
// reconciliation, and reports how far the session has progressed.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qbwc-sync/internal/archive"
	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/events"
	"qbwc-sync/internal/logging"
	"qbwc-sync/internal/models"
	"qbwc-sync/internal/queue"
	"qbwc-sync/internal/ratelimit"
	"qbwc-sync/internal/store"
	"qbwc-sync/internal/telemetry"
)

var (
	ErrAuthFailed       = errors.New("invalid connector credentials")
	ErrThrottled        = errors.New("too many authentication attempts")
	ErrProtocolSequence = errors.New("response received with no query pending")
	ErrUnknownSession   = queue.ErrSessionNotFound
	ErrSessionClosed    = queue.ErrSessionClosed
)

// Translator turns a raw response for an entity type into canonical records.
type Translator interface {
	Translate(entityType, raw string) iter.Seq[models.Record]
}

// Reconciler merges one batch of records into the entity store.
type Reconciler interface {
	ReconcileAll(ctx context.Context, desc catalog.Descriptor, records iter.Seq[models.Record]) []models.Result
}

// Throttle limits authentication attempts per user.
type Throttle interface {
	Allow(ctx context.Context, user string) (ratelimit.Decision, error)
}

// Credentials the connector must present.
type Credentials struct {
	User     string
	Password string
}

// Deps wires a Controller. Queue, Catalog, Translator and Reconciler are
// required; the rest default to no-ops.
type Deps struct {
	Queue       *queue.SessionQueue
	Catalog     *catalog.Catalog
	Translator  Translator
	Reconciler  Reconciler
	Credentials Credentials

	Throttle  Throttle
	Archive   archive.Archiver
	Auditor   store.Auditor
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Controller drives connector sessions. All per-session state lives in the
// queue, so one Controller serves any number of concurrent sessions.
type Controller struct {
	queue      *queue.SessionQueue
	catalog    *catalog.Catalog
	translator Translator
	reconciler Reconciler
	creds      Credentials
	throttle   Throttle
	archive    archive.Archiver
	auditor    store.Auditor
	publisher  events.Publisher
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

func NewController(d Deps) *Controller {
	c := &Controller{
		queue:      d.Queue,
		catalog:    d.Catalog,
		translator: d.Translator,
		reconciler: d.Reconciler,
		creds:      d.Credentials,
		throttle:   d.Throttle,
		archive:    d.Archive,
		auditor:    d.Auditor,
		publisher:  d.Publisher,
		logger:     logging.OrNop(d.Logger),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	if c.archive == nil {
		c.archive = archive.Nop{}
	}
	if c.auditor == nil {
		c.auditor = store.NopAuditor{}
	}
	if c.publisher == nil {
		c.publisher = events.NoopPublisher{}
	}
	return c
}

// Authenticate validates credentials and opens a session whose queue holds the
// whole catalog. A rejected attempt leaves every existing session untouched.
func (c *Controller) Authenticate(ctx context.Context, user, password string) (string, error) {
	if c.throttle != nil {
		d, err := c.throttle.Allow(ctx, user)
		switch {
		case err != nil:
			c.logger.Warn("auth throttle unavailable, allowing attempt", zap.Error(err))
		case !d.Allowed:
			telemetry.AuthAttempts.WithLabelValues("throttled").Inc()
			c.logger.Warn("authentication throttled", zap.String("user", user), zap.Duration("retry_after", d.RetryAfter))
			return "", ErrThrottled
		}
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.creds.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.creds.Password)) == 1
	if !userOK || !passOK {
		telemetry.AuthAttempts.WithLabelValues("rejected").Inc()
		c.logger.Info("authentication rejected", zap.String("user", user))
		return "", ErrAuthFailed
	}

	id := c.newID()
	jobs := c.catalog.Jobs()
	types := make([]string, len(jobs))
	for i, j := range jobs {
		types[i] = j.EntityType
	}
	if err := c.queue.Reset(ctx, id, types); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	telemetry.AuthAttempts.WithLabelValues("accepted").Inc()
	telemetry.ActiveSessions.Inc()
	c.logger.Info("session opened", zap.String("session_id", id), zap.Int("jobs", len(types)))
	c.audit(ctx, models.Session{ID: id, State: models.StateAuthenticated, TotalJobs: len(types), Remaining: len(types)}, "authenticated", "")
	return id, nil
}

// NextJob hands out the next query. ok is false once the queue is empty.
func (c *Controller) NextJob(ctx context.Context, token string) (models.QueryJob, bool, error) {
	typ, ok, err := c.queue.PopNext(ctx, token)
	if err != nil {
		return models.QueryJob{}, false, err
	}
	if !ok {
		c.logger.Info("session drained", zap.String("session_id", token))
		return models.QueryJob{}, false, nil
	}
	desc, found := c.catalog.Lookup(typ)
	if !found {
		return models.QueryJob{}, false, fmt.Errorf("session %s: queued entity type %q is not in the catalog", token, typ)
	}
	telemetry.JobsDispatched.WithLabelValues(typ).Inc()
	c.logger.Debug("query dispatched", zap.String("session_id", token), zap.String("entity_type", typ))
	return models.QueryJob{EntityType: desc.EntityType, Payload: desc.Query}, true, nil
}

// SubmitResponse processes the response to the pending query and returns the
// percentage of the catalog completed. Without a pending query nothing is
// processed and the unchanged progress is returned with ErrProtocolSequence.
func (c *Controller) SubmitResponse(ctx context.Context, token, raw string) (int, error) {
	sess, err := c.queue.Load(ctx, token)
	if err != nil {
		return 0, err
	}
	before := models.PercentDone(sess.TotalJobs, sess.Remaining)
	if sess.State == models.StateClosed {
		return before, ErrSessionClosed
	}

	typ, ok, err := c.queue.TakePending(ctx, token)
	if err != nil {
		return before, err
	}
	if !ok {
		telemetry.SequenceErrors.Inc()
		c.logger.Warn("response without pending query", zap.String("session_id", token))
		return before, ErrProtocolSequence
	}
	desc, found := c.catalog.Lookup(typ)
	if !found {
		return before, fmt.Errorf("session %s: pending entity type %q is not in the catalog", token, typ)
	}

	if loc, err := c.archive.Store(ctx, archive.Key(token, typ, c.now()), []byte(raw)); err != nil {
		c.logger.Warn("archive response failed", zap.String("session_id", token), zap.String("entity_type", typ), zap.Error(err))
	} else if loc != "" {
		c.logger.Debug("response archived", zap.String("location", loc))
	}

	results := c.reconciler.ReconcileAll(ctx, desc, c.translator.Translate(typ, raw))
	if err := c.auditor.RecordResults(ctx, token, results); err != nil {
		c.logger.Warn("audit results failed", zap.String("session_id", token), zap.Error(err))
	}
	if summary := failureSummary(typ, results); summary != "" {
		if err := c.queue.SetLastError(ctx, token, summary); err != nil {
			c.logger.Warn("remember last error failed", zap.String("session_id", token), zap.Error(err))
		}
	}

	remaining, err := c.queue.Len(ctx, token)
	if err != nil {
		return before, fmt.Errorf("read remaining jobs: %w", err)
	}
	if remaining == 0 {
		if err := c.queue.SetState(ctx, token, models.StateDrained); err != nil {
			c.logger.Warn("mark session drained failed", zap.String("session_id", token), zap.Error(err))
		}
	}
	percent := models.PercentDone(sess.TotalJobs, int(remaining))

	tally := models.Tally(results)
	c.logger.Info("response processed",
		zap.String("session_id", token),
		zap.String("entity_type", typ),
		zap.Int("records", len(results)),
		zap.Int("inserted", tally[models.StatusInserted]),
		zap.Int("updated", tally[models.StatusUpdated]),
		zap.Int("errors", tally[models.StatusError]),
		zap.Int("percent_done", percent),
	)
	return percent, nil
}

// Close ends the session. Records already committed stay committed. Closing an
// unknown or expired session is acknowledged as well.
func (c *Controller) Close(ctx context.Context, token string) (string, error) {
	sess, err := c.queue.Load(ctx, token)
	if errors.Is(err, ErrUnknownSession) {
		c.logger.Info("close for unknown session", zap.String("session_id", token))
		return "OK", nil
	}
	if err != nil {
		return "", err
	}
	if sess.State == models.StateClosed {
		return "OK", nil
	}
	if err := c.queue.SetState(ctx, token, models.StateClosed); err != nil && !errors.Is(err, ErrUnknownSession) {
		return "", err
	}
	sess.State = models.StateClosed
	telemetry.ActiveSessions.Dec()

	percent := models.PercentDone(sess.TotalJobs, sess.Remaining)
	if err := c.publisher.Publish(ctx, events.TopicSessionClosed, events.SessionClosed{SessionID: token, PercentDone: percent}); err != nil {
		c.logger.Warn("publish session closed failed", zap.String("session_id", token), zap.Error(err))
	}
	c.audit(ctx, sess, "closed", fmt.Sprintf("%d%% complete", percent))
	c.logger.Info("session closed", zap.String("session_id", token), zap.Int("percent_done", percent))
	return "OK", nil
}

// Progress is a read-only snapshot of the session.
func (c *Controller) Progress(ctx context.Context, token string) (models.Progress, error) {
	sess, err := c.queue.Load(ctx, token)
	if err != nil {
		return models.Progress{}, err
	}
	return models.Progress{
		SessionID:          sess.ID,
		State:              sess.State,
		TotalJobs:          sess.TotalJobs,
		Remaining:          sess.Remaining,
		PercentDone:        models.PercentDone(sess.TotalJobs, sess.Remaining),
		LastDispatchedType: sess.LastDispatchedType,
	}, nil
}

// LastError returns the most recent failure summary, empty when none.
func (c *Controller) LastError(ctx context.Context, token string) (string, error) {
	sess, err := c.queue.Load(ctx, token)
	if err != nil {
		return "", err
	}
	return sess.LastError, nil
}

// ConnectionError records a failure reported by the connector and ends the
// cycle by answering "done".
func (c *Controller) ConnectionError(ctx context.Context, token, hresult, message string) (string, error) {
	summary := fmt.Sprintf("connector error %s: %s", hresult, message)
	c.logger.Warn("connector reported error", zap.String("session_id", token), zap.String("hresult", hresult), zap.String("message", message))
	if err := c.queue.SetLastError(ctx, token, summary); err != nil && !errors.Is(err, ErrUnknownSession) {
		return "", err
	}
	return "done", nil
}

func (c *Controller) audit(ctx context.Context, s models.Session, event, detail string) {
	if err := c.auditor.RecordSessionEvent(ctx, s, event, detail); err != nil {
		c.logger.Warn("audit session event failed", zap.String("session_id", s.ID), zap.String("event", event), zap.Error(err))
	}
}

func failureSummary(entityType string, results []models.Result) string {
	var (
		failed int
		first  string
	)
	for _, r := range results {
		if r.Status != models.StatusError {
			continue
		}
		if failed == 0 {
			first = fmt.Sprintf("%s: %s", r.Key, r.Error)
		}
		failed++
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d %s records failed (first %s)", failed, len(results), entityType, first)
}
