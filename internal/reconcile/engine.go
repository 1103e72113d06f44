// Package reconcile merges translated records into the entity store using an
// insert / partial-update / no-change policy driven by catalog descriptors.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/events"
	"qbwc-sync/internal/models"
	"qbwc-sync/internal/store"
	"qbwc-sync/internal/telemetry"
)

const (
	defaultWorkers = 16
	defaultTimeout = 30 * time.Second
)

// Engine reconciles records against an EntityStore.
type Engine struct {
	store     store.EntityStore
	publisher events.Publisher
	logger    *zap.Logger
	workers   int
	timeout   time.Duration
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of records reconciled concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTimeout sets the per-batch deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPublisher emits change events for inserted and updated records.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st store.EntityStore, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		publisher: events.NoopPublisher{},
		logger:    zap.NewNop(),
		workers:   defaultWorkers,
		timeout:   defaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile merges one record. Failures are reported in the result, never returned.
func (e *Engine) Reconcile(ctx context.Context, desc catalog.Descriptor, rec models.Record) models.Result {
	res := models.Result{Type: desc.EntityType, Key: rec.Key}
	if rec.Key == "" {
		return failed(res, errors.New("record has no natural key"))
	}

	incoming, err := normalize(rec.Fields)
	if err != nil {
		return failed(res, fmt.Errorf("normalize record: %w", err))
	}
	delete(incoming, models.FieldCreatedAt)
	delete(incoming, models.FieldUpdatedAt)
	incoming[desc.KeyField] = rec.Key

	existing, found, err := e.store.Get(ctx, desc.Collection, rec.Key)
	if err != nil {
		return failed(res, fmt.Errorf("load %s/%s: %w", desc.Collection, rec.Key, err))
	}

	stamp := models.Timestamp(e.now())
	if !found {
		incoming[models.FieldCreatedAt] = stamp
		incoming[models.FieldUpdatedAt] = stamp
		if err := e.store.Put(ctx, desc.Collection, rec.Key, incoming); err != nil {
			return failed(res, fmt.Errorf("insert %s/%s: %w", desc.Collection, rec.Key, err))
		}
		res.Status = models.StatusInserted
		e.publish(ctx, events.TopicRecordInserted, desc, rec.Key, incoming)
		return res
	}

	changed := Diff(desc, existing, incoming)
	if len(changed) == 0 {
		res.Status = models.StatusUnchanged
		return res
	}
	update := make(map[string]any, len(changed)+1)
	for _, f := range changed {
		update[f] = incoming[f]
	}
	update[models.FieldUpdatedAt] = stamp
	if err := e.store.Update(ctx, desc.Collection, rec.Key, update); err != nil {
		return failed(res, fmt.Errorf("update %s/%s: %w", desc.Collection, rec.Key, err))
	}
	res.Status = models.StatusUpdated
	res.Changed = changed
	e.publish(ctx, events.TopicRecordUpdated, desc, rec.Key, update)
	return res
}

// ReconcileAll reconciles every record of one batch with bounded concurrency and
// waits for all of them. Result order is unspecified.
func (e *Engine) ReconcileAll(ctx context.Context, desc catalog.Descriptor, records iter.Seq[models.Record]) []models.Result {
	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		results []models.Result
		g       errgroup.Group
	)
	g.SetLimit(e.workers)
	for rec := range records {
		g.Go(func() error {
			var r models.Result
			if err := ctx.Err(); err != nil {
				r = failed(models.Result{Type: desc.EntityType, Key: rec.Key}, fmt.Errorf("batch deadline: %w", err))
			} else {
				r = e.Reconcile(ctx, desc, rec)
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	tally := models.Tally(results)
	for status, n := range tally {
		telemetry.RecordsReconciled.WithLabelValues(desc.EntityType, status).Add(float64(n))
	}
	elapsed := time.Since(start)
	telemetry.ReconcileDuration.WithLabelValues(desc.EntityType).Observe(elapsed.Seconds())
	e.logger.Info("batch reconciled",
		zap.String("entity_type", desc.EntityType),
		zap.Int("records", len(results)),
		zap.Int("inserted", tally[models.StatusInserted]),
		zap.Int("updated", tally[models.StatusUpdated]),
		zap.Int("unchanged", tally[models.StatusUnchanged]),
		zap.Int("errors", tally[models.StatusError]),
		zap.Duration("elapsed", elapsed),
	)
	return results
}

// Diff lists the descriptor fields whose incoming value differs from the stored
// one. Key and audit fields never take part.
func Diff(desc catalog.Descriptor, stored, incoming map[string]any) []string {
	fields := desc.Fields
	if len(fields) == 0 {
		fields = make([]string, 0, len(incoming))
		for k := range incoming {
			fields = append(fields, k)
		}
		slices.Sort(fields)
	}

	var changed []string
	for _, f := range fields {
		if f == desc.KeyField || f == models.FieldCreatedAt || f == models.FieldUpdatedAt {
			continue
		}
		next, ok := incoming[f]
		if !ok {
			continue
		}
		prev, had := stored[f]
		if !had || !equal(desc, f, prev, next) {
			changed = append(changed, f)
		}
	}
	return changed
}

func equal(desc catalog.Descriptor, field string, stored, incoming any) bool {
	if fn, ok := desc.Equal[field]; ok {
		return fn(stored, incoming)
	}
	return reflect.DeepEqual(stored, incoming)
}

// normalize gives incoming fields the same shape values have after a trip
// through the store: numbers become float64, nested values maps and slices.
func normalize(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields)+2)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) publish(ctx context.Context, topic string, desc catalog.Descriptor, key string, changes map[string]any) {
	ev := events.RecordChanged{
		EntityType: desc.EntityType,
		Collection: desc.Collection,
		Key:        key,
		Changes:    changes,
	}
	if err := e.publisher.Publish(ctx, topic, ev); err != nil {
		e.logger.Warn("publish change event failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func failed(res models.Result, err error) models.Result {
	res.Status = models.StatusError
	res.Error = err.Error()
	return res
}
