package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBackend shares one queue across processes. Layout under the queue
// prefix:
//
//	job:{id}   job record (JSON); TTL set once completed
//	wait       zset, score priority*1e13+seq
//	delayed    zset, score ready time (ms)
//	active     zset, score lease deadline (ms)
//	dead       list of dead-lettered ids, newest first
//	attempts   hash of claim counts per id
//	events     pub/sub channel announcing added jobs
type RedisBackend struct {
	client    *redis.Client
	events    *redis.Client
	prefix    string
	lease     time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewRedisBackend uses client for queue operations and events for the
// added-job channel. events may be nil.
func NewRedisBackend(client, events *redis.Client, name string, lease, retention time.Duration) *RedisBackend {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &RedisBackend{
		client:    client,
		events:    events,
		prefix:    "queue:" + name + ":",
		lease:     lease,
		retention: retention,
		now:       time.Now,
	}
}

func (r *RedisBackend) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *RedisBackend) jobKey(id string) string { return r.key("job", id) }

func millis(t time.Time) float64 { return float64(t.UnixMilli()) }

func (r *RedisBackend) load(ctx context.Context, id string) (*Job, error) {
	raw, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// Every move between sets runs as one script, so a job is always in exactly
// one of wait, delayed, active or dead even if the caller dies mid-move.
const luaPushWait = `
local function pushWait(waitKey, seqKey, id, priority)
  local seq = redis.call('INCR', seqKey)
  redis.call('ZADD', waitKey, tonumber(priority) * 1e13 + seq, id)
end
`

// KEYS: job, seq, wait, delayed. ARGV: id, record, priority, readyAt (0 = now).
var addScript = redis.NewScript(luaPushWait + `
if redis.call('SETNX', KEYS[1], ARGV[2]) == 0 then
  return 0
end
if tonumber(ARGV[4]) > 0 then
  redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
  pushWait(KEYS[3], KEYS[2], ARGV[1], ARGV[3])
end
return 1
`)

// KEYS: wait, active, attempts, job prefix. ARGV: lease deadline.
// Returns {id, record, attempts} or nil. Ids whose record expired are dropped.
var claimScript = redis.NewScript(`
while true do
  local popped = redis.call('ZPOPMIN', KEYS[1])
  if #popped == 0 then
    return false
  end
  local id = popped[1]
  local raw = redis.call('GET', KEYS[4] .. id)
  if raw then
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    local attempts = redis.call('HINCRBY', KEYS[3], id, 1)
    return {id, raw, attempts}
  end
  redis.call('HDEL', KEYS[3], id)
end
`)

// KEYS: job, active. ARGV: id, record. Rewrites the record only while the
// lease is still held.
var touchActiveScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// KEYS: job, active, attempts. ARGV: id, record, retention ms (0 = delete).
var completeScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('DEL', KEYS[1])
end
return 1
`)

// KEYS: job, seq, wait, delayed, from. ARGV: id, record, priority, readyAt
// (0 = wait set). Moves id out of the from zset only if it is still there,
// which decides ownership when several processes race.
var moveScript = redis.NewScript(luaPushWait + `
if redis.call('ZREM', KEYS[5], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
if tonumber(ARGV[4]) > 0 then
  redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
  pushWait(KEYS[3], KEYS[2], ARGV[1], ARGV[3])
end
return 1
`)

// KEYS: job, active, dead. ARGV: id, record.
var deadLetterScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

// KEYS: job, seq, wait, dead, attempts. ARGV: id, record, priority.
var replayScript = redis.NewScript(luaPushWait + `
if redis.call('LREM', KEYS[4], 0, ARGV[1]) == 0 then
  return 0
end
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('SET', KEYS[1], ARGV[2])
pushWait(KEYS[3], KEYS[2], ARGV[1], ARGV[3])
return 1
`)

func (r *RedisBackend) encode(j *Job) (string, error) {
	j.UpdatedAt = r.now()
	raw, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// move shifts a job out of the from set into wait (delay <= 0) or delayed.
// It reports false when another process already moved it.
func (r *RedisBackend) move(ctx context.Context, j *Job, from string, delay time.Duration) (bool, error) {
	raw, err := r.encode(j)
	if err != nil {
		return false, err
	}
	var readyAt int64
	if delay > 0 {
		readyAt = r.now().Add(delay).UnixMilli()
	}
	keys := []string{r.jobKey(j.ID), r.key("seq"), r.key("wait"), r.key("delayed"), r.key(from)}
	n, err := moveScript.Run(ctx, r.client, keys, j.ID, raw, j.Priority, readyAt).Int()
	return n == 1, err
}

func (r *RedisBackend) Add(ctx context.Context, job *Job, opts AddOptions) error {
	j := job.clone()
	var readyAt int64
	if opts.Delay > 0 {
		j.Status = StatusDelayed
		readyAt = r.now().Add(opts.Delay).UnixMilli()
	} else {
		j.Status = StatusWaiting
	}
	raw, err := r.encode(j)
	if err != nil {
		return err
	}

	keys := []string{r.jobKey(j.ID), r.key("seq"), r.key("wait"), r.key("delayed")}
	n, err := addScript.Run(ctx, r.client, keys, j.ID, raw, j.Priority, readyAt).Int()
	if err != nil {
		return fmt.Errorf("add job: %w", err)
	}
	if n == 0 {
		return ErrDuplicateJob
	}
	r.announce(ctx)
	return nil
}

func (r *RedisBackend) announce(ctx context.Context) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, r.key("events"), "added").Err(); err != nil {
		log.WithError(err).Debug("queue event publish failed")
	}
}

func (r *RedisBackend) Claim(ctx context.Context) (*Job, error) {
	deadline := r.now().Add(r.lease).UnixMilli()
	keys := []string{r.key("wait"), r.key("active"), r.key("attempts"), r.key("job") + ":"}
	res, err := claimScript.Run(ctx, r.client, keys, deadline).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("claim: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	raw, _ := res[1].(string)
	attempts, _ := res[2].(int64)

	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	// The attempts counter lives outside the record so a crash before the
	// rewrite below still counts this attempt.
	j.Attempts = int(attempts)
	j.Status = StatusActive
	enc, err := r.encode(&j)
	if err != nil {
		return nil, err
	}
	if err := touchActiveScript.Run(ctx, r.client, []string{r.jobKey(id), r.key("active")}, id, enc).Err(); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *RedisBackend) Complete(ctx context.Context, job *Job) error {
	j := job.clone()
	j.Status = StatusCompleted
	raw, err := r.encode(j)
	if err != nil {
		return err
	}
	keys := []string{r.jobKey(j.ID), r.key("active"), r.key("attempts")}
	return completeScript.Run(ctx, r.client, keys, j.ID, raw, r.retention.Milliseconds()).Err()
}

func (r *RedisBackend) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	j := job.clone()
	j.Priority = PriorityRetry
	j.Status = StatusWaiting
	if delay > 0 {
		j.Status = StatusDelayed
	}
	moved, err := r.move(ctx, j, "active", delay)
	if err != nil {
		return err
	}
	if !moved {
		log.WithField("job_id", j.ID).Debug("Retry skipped, lease already recovered")
	}
	return nil
}

func (r *RedisBackend) DeadLetter(ctx context.Context, job *Job) error {
	j := job.clone()
	j.Status = StatusDead
	raw, err := r.encode(j)
	if err != nil {
		return err
	}
	keys := []string{r.jobKey(j.ID), r.key("active"), r.key("dead")}
	return deadLetterScript.Run(ctx, r.client, keys, j.ID, raw).Err()
}

// due returns members of set scored at or before now.
func (r *RedisBackend) due(ctx context.Context, set string) ([]string, error) {
	return r.client.ZRangeByScore(ctx, r.key(set), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
}

func (r *RedisBackend) PromoteDue(ctx context.Context) (int, error) {
	ids, err := r.due(ctx, "delayed")
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		j, err := r.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.ZRem(ctx, r.key("delayed"), id)
			continue
		}
		if err != nil {
			return promoted, err
		}
		j.Status = StatusWaiting
		moved, err := r.move(ctx, j, "delayed", 0)
		if err != nil {
			return promoted, err
		}
		if moved {
			promoted++
		}
	}
	if promoted > 0 {
		r.announce(ctx)
	}
	return promoted, nil
}

func (r *RedisBackend) RecoverStalled(ctx context.Context) (int, error) {
	ids, err := r.due(ctx, "active")
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		j, err := r.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.ZRem(ctx, r.key("active"), id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		j.Status = StatusWaiting
		j.LastError = "lease expired"
		moved, err := r.move(ctx, j, "active", 0)
		if err != nil {
			return recovered, err
		}
		if moved {
			recovered++
		}
	}
	return recovered, nil
}

func (r *RedisBackend) Counts(ctx context.Context) (Counts, error) {
	pipe := r.client.Pipeline()
	wait := pipe.ZCard(ctx, r.key("wait"))
	delayed := pipe.ZCard(ctx, r.key("delayed"))
	active := pipe.ZCard(ctx, r.key("active"))
	dead := pipe.LLen(ctx, r.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting: wait.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
		Dead:    dead.Val(),
	}, nil
}

func (r *RedisBackend) DeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.LRange(ctx, r.key("dead"), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *RedisBackend) ReplayDeadLetter(ctx context.Context, id string) error {
	j, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	j.Attempts = 0
	j.Status = StatusWaiting
	j.Priority = PriorityFor(j.Type)
	raw, err := r.encode(j)
	if err != nil {
		return err
	}
	keys := []string{r.jobKey(id), r.key("seq"), r.key("wait"), r.key("dead"), r.key("attempts")}
	n, err := replayScript.Run(ctx, r.client, keys, id, raw, j.Priority).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	r.announce(ctx)
	return nil
}

func (r *RedisBackend) PurgeDeadLetters(ctx context.Context) (int, error) {
	ids, err := r.client.LRange(ctx, r.key("dead"), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.jobKey(id))
	}
	keys = append(keys, r.key("dead"))
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.HDel(ctx, r.key("attempts"), ids...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Subscribe signals on every added-job announcement from any process.
func (r *RedisBackend) Subscribe(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	if r.events == nil {
		return out
	}
	sub := r.events.Subscribe(ctx, r.key("events"))
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
