package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const promoteBatch = 500

// RedisQueue keeps ready jobs in a list and delayed jobs in a sorted set
// scored by run time in unix millis. Dequeued jobs sit in a processing list,
// with their dequeue time in a sorted set, until they are acknowledged.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "taxdesk"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) readyKey(queueName string) string {
	return q.prefix + ":queue:" + queueName
}

func (q *RedisQueue) delayedKey(queueName string) string {
	return q.prefix + ":queue:" + queueName + ":delayed"
}

func (q *RedisQueue) processingKey(queueName string) string {
	return q.prefix + ":queue:" + queueName + ":processing"
}

func (q *RedisQueue) inflightKey(queueName string) string {
	return q.prefix + ":queue:" + queueName + ":inflight"
}

func (q *RedisQueue) Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (JobHandle, error) {
	job, err := newJob(queueName, jobName, payload, opts.Delay)
	if err != nil {
		return JobHandle{}, err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return JobHandle{}, fmt.Errorf("encode job: %w", err)
	}

	if opts.Delay > 0 {
		err = q.client.ZAdd(ctx, q.delayedKey(queueName), redis.Z{Score: float64(job.RunAt), Member: raw}).Err()
	} else {
		err = q.client.LPush(ctx, q.readyKey(queueName), raw).Err()
	}
	if err != nil {
		return JobHandle{}, fmt.Errorf("enqueue %s: %w", jobName, err)
	}

	log.Debug().Str("queue", queueName).Str("job", jobName).Str("job_id", job.ID).Dur("delay", opts.Delay).Msg("job enqueued")
	return job.handle(), nil
}

// Dequeue moves the oldest ready job onto the in-flight list, where it stays
// until Ack. Jobs whose worker died before acknowledging are returned to the
// ready list by Reclaim.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string, wait time.Duration) (*Job, error) {
	if wait <= 0 {
		wait = time.Second
	}
	raw, err := q.client.BRPopLPush(ctx, q.readyKey(queueName), q.processingKey(queueName), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	// A missing stamp is added by the next Reclaim pass.
	if err := q.client.ZAdd(ctx, q.inflightKey(queueName), redis.Z{Score: float64(time.Now().UnixMilli()), Member: raw}).Err(); err != nil {
		log.Warn().Err(err).Str("queue", queueName).Msg("could not stamp in-flight job")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.drop(ctx, queueName, raw)
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.raw = raw
	return &job, nil
}

// Ack removes a finished job from the in-flight list.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	if err := q.drop(ctx, job.Queue, job.raw); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) drop(ctx context.Context, queueName, raw string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(queueName), 1, raw)
		pipe.ZRem(ctx, q.inflightKey(queueName), raw)
		return nil
	})
	return err
}

// promoteScript moves due delayed jobs onto the ready list in one step, so a
// job is never removed from the delayed set without being pushed.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

func (q *RedisQueue) PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(queueName), q.readyKey(queueName)},
		now.UnixMilli(), promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// reclaimScript returns one in-flight job to the consuming end of the ready
// list. A job acknowledged in the meantime only loses its stale stamp.
var reclaimScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// Reclaim returns jobs that have been in flight for longer than visibility to
// the ready list. Jobs found in flight without a stamp are stamped now.
func (q *RedisQueue) Reclaim(ctx context.Context, queueName string, visibility time.Duration, now time.Time) (int, error) {
	inflight, err := q.client.LRange(ctx, q.processingKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list in-flight jobs: %w", err)
	}
	if len(inflight) > 0 {
		_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, raw := range inflight {
				pipe.ZAddNX(ctx, q.inflightKey(queueName), redis.Z{Score: float64(now.UnixMilli()), Member: raw})
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("stamp in-flight jobs: %w", err)
		}
	}

	stale, err := q.client.ZRangeByScore(ctx, q.inflightKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Add(-visibility).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan in-flight jobs: %w", err)
	}

	keys := []string{q.processingKey(queueName), q.inflightKey(queueName), q.readyKey(queueName)}
	reclaimed := 0
	for _, raw := range stale {
		n, err := reclaimScript.Run(ctx, q.client, keys, raw).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim job: %w", err)
		}
		reclaimed += n
	}
	if reclaimed > 0 {
		log.Warn().Str("queue", queueName).Int("count", reclaimed).Msg("reclaimed in-flight jobs")
	}
	return reclaimed, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Len reports the number of ready and delayed jobs.
func (q *RedisQueue) Len(ctx context.Context, queueName string) (ready, delayed int64, err error) {
	ready, err = q.client.LLen(ctx, q.readyKey(queueName)).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err = q.client.ZCard(ctx, q.delayedKey(queueName)).Result()
	return ready, delayed, err
}
