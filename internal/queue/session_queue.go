// Package queue keeps per-session protocol state in Redis: the session hash and
// the FIFO list of entity types still to be dispatched.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"qbwc-sync/internal/config"
	"qbwc-sync/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

const (
	fieldState     = "state"
	fieldLastType  = "last_type"
	fieldTotal     = "total"
	fieldLastError = "last_error"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// SessionQueue stores each session under session:<id> (hash) and
// session:<id>:jobs (list). Both keys expire together after ttl of inactivity.
type SessionQueue struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient builds the shared Redis client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewSessionQueue(client *redis.Client, ttl time.Duration) *SessionQueue {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionQueue{client: client, prefix: "session:", ttl: ttl, now: time.Now}
}

func (q *SessionQueue) sessionKey(id string) string {
	return q.prefix + id
}

func (q *SessionQueue) jobsKey(id string) string {
	return q.prefix + id + ":jobs"
}

func (q *SessionQueue) keys(id string) []string {
	return []string{q.sessionKey(id), q.jobsKey(id)}
}

// Reset (re)creates a session with the full job list, discarding any previous
// state stored under the same id.
func (q *SessionQueue) Reset(ctx context.Context, id string, entityTypes []string) error {
	now := q.stamp()
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.sessionKey(id), q.jobsKey(id))
	pipe.HSet(ctx, q.sessionKey(id),
		fieldState, models.StateAuthenticated,
		fieldLastType, "",
		fieldTotal, len(entityTypes),
		fieldLastError, "",
		fieldCreatedAt, now,
		fieldUpdatedAt, now,
	)
	if len(entityTypes) > 0 {
		items := make([]interface{}, len(entityTypes))
		for i, t := range entityTypes {
			items[i] = t
		}
		pipe.RPush(ctx, q.jobsKey(id), items...)
		pipe.PExpire(ctx, q.jobsKey(id), q.ttl)
	}
	pipe.PExpire(ctx, q.sessionKey(id), q.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the session with Remaining taken from the job list length.
func (q *SessionQueue) Load(ctx context.Context, id string) (models.Session, error) {
	pipe := q.client.TxPipeline()
	hash := pipe.HGetAll(ctx, q.sessionKey(id))
	depth := pipe.LLen(ctx, q.jobsKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Session{}, err
	}
	fields := hash.Val()
	if len(fields) == 0 {
		return models.Session{}, ErrSessionNotFound
	}
	total, err := strconv.Atoi(fields[fieldTotal])
	if err != nil {
		return models.Session{}, fmt.Errorf("session %s: bad total %q: %w", id, fields[fieldTotal], err)
	}
	sess := models.Session{
		ID:                 id,
		State:              fields[fieldState],
		LastDispatchedType: fields[fieldLastType],
		TotalJobs:          total,
		Remaining:          int(depth.Val()),
		LastError:          fields[fieldLastError],
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	return sess, nil
}

// PopNext removes the head job and remembers it as the pending type in one
// step. ok is false once the list is empty, at which point the session is
// marked drained.
func (q *SessionQueue) PopNext(ctx context.Context, id string) (string, bool, error) {
	res, err := popScript.Run(ctx, q.client, q.keys(id), q.ttl.Milliseconds(), q.stamp()).StringSlice()
	if err != nil {
		return "", false, err
	}
	switch res[0] {
	case "ok":
		return res[1], true, nil
	case "empty":
		return "", false, nil
	default:
		return "", false, statusError(res[0])
	}
}

// TakePending clears and returns the pending entity type. ok is false when
// nothing was dispatched since the last response.
func (q *SessionQueue) TakePending(ctx context.Context, id string) (string, bool, error) {
	res, err := takeScript.Run(ctx, q.client, q.keys(id), q.ttl.Milliseconds(), q.stamp()).StringSlice()
	if err != nil {
		return "", false, err
	}
	switch res[0] {
	case "ok":
		return res[1], true, nil
	case "none":
		return "", false, nil
	default:
		return "", false, statusError(res[0])
	}
}

// SetState moves an existing session to state and refreshes its expiry.
func (q *SessionQueue) SetState(ctx context.Context, id, state string) error {
	return q.update(ctx, id, fieldState, state)
}

// SetLastError remembers the most recent failure summary for the session.
func (q *SessionQueue) SetLastError(ctx context.Context, id, message string) error {
	return q.update(ctx, id, fieldLastError, message)
}

func (q *SessionQueue) update(ctx context.Context, id, field, value string) error {
	res, err := updateScript.Run(ctx, q.client, q.keys(id), q.ttl.Milliseconds(), q.stamp(), field, value).Result()
	if err != nil {
		return err
	}
	if n, _ := res.(int64); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Len is the number of jobs still queued for the session.
func (q *SessionQueue) Len(ctx context.Context, id string) (int64, error) {
	return q.client.LLen(ctx, q.jobsKey(id)).Result()
}

func (q *SessionQueue) stamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

func statusError(status string) error {
	switch status {
	case "missing":
		return ErrSessionNotFound
	case "closed":
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected session script status %q", status)
	}
}

var popScript = redis.NewScript(`
local session, jobs = KEYS[1], KEYS[2]
if redis.call('EXISTS', session) == 0 then return {'missing'} end
if redis.call('HGET', session, 'state') == 'closed' then return {'closed'} end
local job = redis.call('LPOP', jobs)
redis.call('HSET', session, 'updated_at', ARGV[2])
redis.call('PEXPIRE', session, ARGV[1])
if not job then
  redis.call('HSET', session, 'state', 'drained', 'last_type', '')
  return {'empty'}
end
redis.call('HSET', session, 'state', 'awaiting_response', 'last_type', job)
redis.call('PEXPIRE', jobs, ARGV[1])
return {'ok', job}
`)

var takeScript = redis.NewScript(`
local session, jobs = KEYS[1], KEYS[2]
if redis.call('EXISTS', session) == 0 then return {'missing'} end
if redis.call('HGET', session, 'state') == 'closed' then return {'closed'} end
local pending = redis.call('HGET', session, 'last_type')
redis.call('PEXPIRE', session, ARGV[1])
redis.call('PEXPIRE', jobs, ARGV[1])
if not pending or pending == '' then return {'none'} end
redis.call('HSET', session, 'last_type', '', 'state', 'dispatching', 'updated_at', ARGV[2])
return {'ok', pending}
`)

var updateScript = redis.NewScript(`
local session, jobs = KEYS[1], KEYS[2]
if redis.call('EXISTS', session) == 0 then return 0 end
redis.call('HSET', session, ARGV[3], ARGV[4], 'updated_at', ARGV[2])
redis.call('PEXPIRE', session, ARGV[1])
redis.call('PEXPIRE', jobs, ARGV[1])
return 1
`)
