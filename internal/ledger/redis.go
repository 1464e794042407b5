package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// DefaultRedisPrefix namespaces every key written by the Redis ledger.
const DefaultRedisPrefix = "snapexp:"

// Redis is a Ledger on Redis. Claims use SETNX; replacements and saves use
// WATCH/MULTI so a concurrent writer aborts the transaction.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps a connected client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

var _ Ledger = (*Redis)(nil)

func (r *Redis) jobKey(origin string) string { return r.prefix + "job:" + origin }
func (r *Redis) logKey(jobID string) string  { return r.prefix + "log:" + jobID }
func (r *Redis) markersKey() string          { return r.prefix + "cleanup" }

func (r *Redis) Close() error { return r.client.Close() }

func transition(j *job.ExportJob, from job.State) ([]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("transition id: %w", err)
	}
	return json.Marshal(Transition{
		ID:               id.String(),
		JobID:            j.JobID,
		OriginSnapshotID: j.OriginSnapshotID,
		From:             from,
		To:               j.State,
		ErrorKind:        j.LastErrorKind,
		Message:          j.LastError,
		At:               j.LastTransitionAt,
	})
}

func (r *Redis) Claim(ctx context.Context, candidate *job.ExportJob, staleAfter time.Duration) (Claim, error) {
	if candidate.OriginSnapshotID == "" {
		return Claim{}, fmt.Errorf("origin snapshot id is empty")
	}
	if candidate.Lease == "" {
		return Claim{}, fmt.Errorf("lease is empty")
	}
	key := r.jobKey(candidate.OriginSnapshotID)
	var claim Claim
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := getJob(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			if err := r.create(ctx, tx, key, candidate); err != nil {
				return err
			}
			claim = Claim{Outcome: ClaimAcquired, Job: candidate}
			return nil
		}
		if err != nil {
			return err
		}
		outcome, next := decide(existing, candidate, staleAfter)
		if !outcome.Runnable() {
			claim = Claim{Outcome: outcome, Job: existing}
			return nil
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		entry, err := transition(next, existing.State)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			p.RPush(ctx, r.logKey(next.JobID), entry)
			return nil
		})
		if err != nil {
			return err
		}
		claim = Claim{Outcome: outcome, Job: next}
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		existing, gerr := r.Get(ctx, candidate.OriginSnapshotID)
		if gerr != nil {
			return Claim{}, gerr
		}
		return Claim{Outcome: ClaimDuplicate, Job: existing}, nil
	}
	if err != nil {
		return Claim{}, fmt.Errorf("claim job: %w", err)
	}
	return claim, nil
}

func (r *Redis) Save(ctx context.Context, j *job.ExportJob, from job.State) error {
	key := r.jobKey(j.OriginSnapshotID)
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getJob(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if current.Lease != j.Lease {
			return ErrLeaseLost
		}
		var entry []byte
		if from != j.State {
			if entry, err = transition(j, from); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			if entry != nil {
				p.RPush(ctx, r.logKey(j.JobID), entry)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrLeaseLost
	}
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("save job: %w", err)
	}
	return err
}

// create writes a new job and its first log entry in one MULTI.
func (r *Redis) create(ctx context.Context, tx *redis.Tx, key string, j *job.ExportJob) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	entry, err := transition(j, "")
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, payload, 0)
		p.RPush(ctx, r.logKey(j.JobID), entry)
		return nil
	})
	return err
}

func getJob(ctx context.Context, c redis.Cmdable, key string) (*job.ExportJob, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var j job.ExportJob
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if j.Attempts == nil {
		j.Attempts = map[job.Step]int{}
	}
	return &j, nil
}

func (r *Redis) Get(ctx context.Context, originSnapshotID string) (*job.ExportJob, error) {
	return getJob(ctx, r.client, r.jobKey(originSnapshotID))
}

func (r *Redis) History(ctx context.Context, jobID string) ([]Transition, error) {
	raw, err := r.client.LRange(ctx, r.logKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query job log: %w", err)
	}
	out := make([]Transition, 0, len(raw))
	for _, item := range raw {
		var t Transition
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode job log: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Redis) RecordUnresolvedCleanup(ctx context.Context, m job.CleanupMarker) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode cleanup marker: %w", err)
	}
	if err := r.client.RPush(ctx, r.markersKey(), data).Err(); err != nil {
		return fmt.Errorf("record cleanup marker: %w", err)
	}
	return nil
}

func (r *Redis) UnresolvedCleanups(ctx context.Context) ([]job.CleanupMarker, error) {
	raw, err := r.client.LRange(ctx, r.markersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query cleanup markers: %w", err)
	}
	out := make([]job.CleanupMarker, 0, len(raw))
	for _, item := range raw {
		var m job.CleanupMarker
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode cleanup marker: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
