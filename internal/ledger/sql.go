package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// Dialect adapts queries to the database engine.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQL is a Ledger on database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an already bootstrapped database.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

var _ Ledger = (*SQL)(nil)

// DB exposes the handle for callers that share it.
func (l *SQL) DB() *sql.DB { return l.db }

func (l *SQL) Close() error { return l.db.Close() }

// q rewrites ? placeholders to $n for PostgreSQL.
func (l *SQL) q(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeLayout is RFC 3339 with a fixed nine-digit fraction so stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (l *SQL) Claim(ctx context.Context, candidate *job.ExportJob, staleAfter time.Duration) (Claim, error) {
	if candidate.OriginSnapshotID == "" {
		return Claim{}, fmt.Errorf("origin snapshot id is empty")
	}
	if candidate.Lease == "" {
		return Claim{}, fmt.Errorf("lease is empty")
	}
	attempts, err := json.Marshal(candidate.Attempts)
	if err != nil {
		return Claim{}, fmt.Errorf("encode attempts: %w", err)
	}

	inserted, err := l.insert(ctx, candidate, attempts)
	if err != nil {
		return Claim{}, err
	}
	if inserted {
		return Claim{Outcome: ClaimAcquired, Job: candidate}, nil
	}

	existing, err := l.Get(ctx, candidate.OriginSnapshotID)
	if err != nil {
		return Claim{}, err
	}
	outcome, next := decide(existing, candidate, staleAfter)
	if !outcome.Runnable() {
		return Claim{Outcome: outcome, Job: existing}, nil
	}

	ok, err := l.replace(ctx, next, existing)
	if err != nil {
		return Claim{}, err
	}
	if !ok {
		// Another invocation won the race for the same row.
		return Claim{Outcome: ClaimDuplicate, Job: existing}, nil
	}
	return Claim{Outcome: outcome, Job: next}, nil
}

// insert creates the row and its first log entry together. It reports false
// when a row for the origin snapshot already exists.
func (l *SQL) insert(ctx context.Context, candidate *job.ExportJob, attempts []byte) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, l.q(`
INSERT INTO export_jobs(
  origin_snapshot_id, job_id, origin_snapshot_arn, source_type, state, attempts,
  created_at, last_transition_at, lease
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(origin_snapshot_id) DO NOTHING;
`), candidate.OriginSnapshotID, candidate.JobID, nullable(candidate.OriginSnapshotARN), nullable(candidate.SourceType),
		string(candidate.State), string(attempts), ts(candidate.CreatedAt), ts(candidate.LastTransitionAt), candidate.Lease)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if n != 1 {
		return false, nil
	}
	if err := l.appendLog(ctx, tx, candidate, ""); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

// replace overwrites the stored row with next if it still matches prev.
func (l *SQL) replace(ctx context.Context, next, prev *job.ExportJob) (bool, error) {
	attempts, err := json.Marshal(next.Attempts)
	if err != nil {
		return false, fmt.Errorf("encode attempts: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, l.q(`
UPDATE export_jobs
SET job_id = ?, origin_snapshot_arn = ?, source_type = ?, working_cluster_id = ?, working_snapshot_id = ?,
    export_task_id = ?, state = ?, attempts = ?, created_at = ?, last_transition_at = ?,
    last_error_kind = ?, last_error = ?, lease = ?
WHERE origin_snapshot_id = ? AND lease = ? AND state = ?;
`), next.JobID, nullable(next.OriginSnapshotARN), nullable(next.SourceType), nullable(next.WorkingClusterID),
		nullable(next.WorkingSnapshotID), nullable(next.ExportTaskID), string(next.State), string(attempts),
		ts(next.CreatedAt), ts(next.LastTransitionAt), nullable(next.LastErrorKind), nullable(next.LastError), next.Lease,
		prev.OriginSnapshotID, prev.Lease, string(prev.State))
	if err != nil {
		return false, fmt.Errorf("replace job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace job: %w", err)
	}
	if n != 1 {
		return false, nil
	}
	if err := l.appendLog(ctx, tx, next, prev.State); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit replace: %w", err)
	}
	return true, nil
}

func (l *SQL) Save(ctx context.Context, j *job.ExportJob, from job.State) error {
	attempts, err := json.Marshal(j.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, l.q(`
UPDATE export_jobs
SET working_cluster_id = ?, working_snapshot_id = ?, export_task_id = ?, state = ?, attempts = ?,
    last_transition_at = ?, last_error_kind = ?, last_error = ?
WHERE origin_snapshot_id = ? AND lease = ?;
`), nullable(j.WorkingClusterID), nullable(j.WorkingSnapshotID), nullable(j.ExportTaskID), string(j.State),
		string(attempts), ts(j.LastTransitionAt), nullable(j.LastErrorKind), nullable(j.LastError),
		j.OriginSnapshotID, j.Lease)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if n != 1 {
		return ErrLeaseLost
	}
	if from != j.State {
		if err := l.appendLog(ctx, tx, j, from); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQL) appendLog(ctx context.Context, ex execer, j *job.ExportJob, from job.State) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("transition id: %w", err)
	}
	_, err = ex.ExecContext(ctx, l.q(`
INSERT INTO job_log(id, job_id, origin_snapshot_id, from_state, to_state, error_kind, message, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`), id.String(), j.JobID, j.OriginSnapshotID, nullable(string(from)), string(j.State),
		nullable(j.LastErrorKind), nullable(j.LastError), ts(j.LastTransitionAt))
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func (l *SQL) Get(ctx context.Context, originSnapshotID string) (*job.ExportJob, error) {
	row := l.db.QueryRowContext(ctx, l.q(`
SELECT origin_snapshot_id, job_id, origin_snapshot_arn, source_type, working_cluster_id, working_snapshot_id,
       export_task_id, state, attempts, created_at, last_transition_at, last_error_kind, last_error, lease
FROM export_jobs
WHERE origin_snapshot_id = ?;
`), originSnapshotID)

	var (
		j                                          job.ExportJob
		arn, sourceType, cluster, snapshot, export sql.NullString
		errKind, errMsg                            sql.NullString
		state, attempts, createdAtS, lastS         string
	)
	err := row.Scan(&j.OriginSnapshotID, &j.JobID, &arn, &sourceType, &cluster, &snapshot,
		&export, &state, &attempts, &createdAtS, &lastS, &errKind, &errMsg, &j.Lease)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	j.OriginSnapshotARN = arn.String
	j.SourceType = sourceType.String
	j.WorkingClusterID = cluster.String
	j.WorkingSnapshotID = snapshot.String
	j.ExportTaskID = export.String
	j.State = job.State(state)
	j.LastErrorKind = errKind.String
	j.LastError = errMsg.String
	j.Attempts = map[job.Step]int{}
	if err := json.Unmarshal([]byte(attempts), &j.Attempts); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, lastS); err == nil {
		j.LastTransitionAt = t
	}
	return &j, nil
}

func (l *SQL) History(ctx context.Context, jobID string) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, l.q(`
SELECT id, job_id, origin_snapshot_id, from_state, to_state, error_kind, message, created_at
FROM job_log
WHERE job_id = ?
ORDER BY created_at ASC, id ASC;
`), jobID)
	if err != nil {
		return nil, fmt.Errorf("query job log: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t               Transition
			from, kind, msg sql.NullString
			to, at          string
		)
		if err := rows.Scan(&t.ID, &t.JobID, &t.OriginSnapshotID, &from, &to, &kind, &msg, &at); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		t.From = job.State(from.String)
		t.To = job.State(to)
		t.ErrorKind = kind.String
		t.Message = msg.String
		if parsed, err := time.Parse(time.RFC3339Nano, at); err == nil {
			t.At = parsed
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job log: %w", err)
	}
	return out, nil
}

func (l *SQL) RecordUnresolvedCleanup(ctx context.Context, m job.CleanupMarker) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, l.q(`
INSERT INTO cleanup_markers(id, job_id, origin_snapshot_id, resource_type, resource_id, error_kind, error, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`), m.ID, m.JobID, m.OriginSnapshotID, m.ResourceType, m.ResourceID, nullable(m.ErrorKind), nullable(m.Error), ts(m.RecordedAt))
	if err != nil {
		return fmt.Errorf("record cleanup marker: %w", err)
	}
	return nil
}

func (l *SQL) UnresolvedCleanups(ctx context.Context) ([]job.CleanupMarker, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, job_id, origin_snapshot_id, resource_type, resource_id, error_kind, error, recorded_at
FROM cleanup_markers
WHERE resolved_at IS NULL
ORDER BY recorded_at ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("query cleanup markers: %w", err)
	}
	defer rows.Close()

	var out []job.CleanupMarker
	for rows.Next() {
		var (
			m         job.CleanupMarker
			kind, msg sql.NullString
			at        string
		)
		if err := rows.Scan(&m.ID, &m.JobID, &m.OriginSnapshotID, &m.ResourceType, &m.ResourceID, &kind, &msg, &at); err != nil {
			return nil, fmt.Errorf("scan cleanup marker: %w", err)
		}
		m.ErrorKind = kind.String
		m.Error = msg.String
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			m.RecordedAt = t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleanup markers: %w", err)
	}
	return out, nil
}
