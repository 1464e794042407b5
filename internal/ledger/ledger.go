// Package ledger is the durable marker that keeps at most one export in
// flight per origin snapshot across independent invocations.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/storage"
)

var (
	// ErrNotFound is returned when no job exists for an origin snapshot.
	ErrNotFound = errors.New("ledger: job not found")
	// ErrLeaseLost is returned by Save when another invocation took the job over.
	ErrLeaseLost = errors.New("ledger: lease lost")
)

// ClaimOutcome says what Claim decided.
type ClaimOutcome string

const (
	// ClaimAcquired: no job existed; the candidate now owns the key.
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimRetried: the previous job had FAILED or been ABANDONED and was replaced.
	ClaimRetried ClaimOutcome = "retried"
	// ClaimResumed: the previous job stalled mid-flight and is re-entered from
	// RECEIVED with its original job id.
	ClaimResumed ClaimOutcome = "resumed"
	// ClaimDuplicate: a live job is in flight; the notification is a no-op.
	ClaimDuplicate ClaimOutcome = "duplicate"
	// ClaimCompleted: the snapshot was already exported; the notification is a no-op.
	ClaimCompleted ClaimOutcome = "completed"
)

// Runnable reports whether the caller now owns a job to drive.
func (o ClaimOutcome) Runnable() bool {
	return o == ClaimAcquired || o == ClaimRetried || o == ClaimResumed
}

// Claim is the result of a claim attempt. Job is the job to run when the
// outcome is runnable, otherwise the existing job.
type Claim struct {
	Outcome ClaimOutcome
	Job     *job.ExportJob
}

// Transition is one audit row.
type Transition struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	OriginSnapshotID string    `json:"origin_snapshot_id"`
	From             job.State `json:"from,omitempty"`
	To               job.State `json:"to"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Message          string    `json:"message,omitempty"`
	At               time.Time `json:"at"`
}

// Ledger persists export jobs with conditional writes.
type Ledger interface {
	// Claim conditionally records candidate as the job for its origin
	// snapshot. candidate.CreatedAt is taken as the current time and
	// candidate.Lease must identify the calling invocation.
	Claim(ctx context.Context, candidate *job.ExportJob, staleAfter time.Duration) (Claim, error)
	// Save persists j if the caller still holds its lease. A transition row
	// is appended when from differs from j.State.
	Save(ctx context.Context, j *job.ExportJob, from job.State) error
	Get(ctx context.Context, originSnapshotID string) (*job.ExportJob, error)
	History(ctx context.Context, jobID string) ([]Transition, error)
	RecordUnresolvedCleanup(ctx context.Context, m job.CleanupMarker) error
	UnresolvedCleanups(ctx context.Context) ([]job.CleanupMarker, error)
	Close() error
}

// decide applies the claim rules to an existing job. It returns the outcome
// and, for runnable outcomes, the job that should replace the stored one.
func decide(existing, candidate *job.ExportJob, staleAfter time.Duration) (ClaimOutcome, *job.ExportJob) {
	now := candidate.CreatedAt
	switch {
	case existing.State == job.StateCrawlReady:
		return ClaimCompleted, nil
	case existing.State.Terminal():
		return ClaimRetried, candidate
	case staleAfter > 0 && now.Sub(existing.LastTransitionAt) > staleAfter:
		resumed := existing.Clone()
		resumed.State = job.StateReceived
		resumed.Attempts = map[job.Step]int{}
		resumed.LastTransitionAt = now
		resumed.Lease = candidate.Lease
		if resumed.OriginSnapshotARN == "" {
			resumed.OriginSnapshotARN = candidate.OriginSnapshotARN
		}
		return ClaimResumed, resumed
	default:
		return ClaimDuplicate, nil
	}
}

// Open picks a backend from url: redis:// or rediss:// for Redis,
// postgres:// or postgresql:// for PostgreSQL, sqlite:// or a bare path for
// SQLite. redisPrefix namespaces Redis keys and is ignored by SQL backends.
func Open(ctx context.Context, url, redisPrefix string) (Ledger, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("ledger url is empty")
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(client, redisPrefix), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := storage.OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return NewSQL(db, DialectPostgres), nil
	default:
		db, err := storage.OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return NewSQL(db, DialectSQLite), nil
	}
}
