package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mattjoyce/snapshot-exporter/internal/cleanup"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway/gatewaytest"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/ledger"
	"github.com/mattjoyce/snapshot-exporter/internal/log"
	"github.com/mattjoyce/snapshot-exporter/internal/notification"
	"github.com/mattjoyce/snapshot-exporter/internal/orchestrator"
	"github.com/mattjoyce/snapshot-exporter/internal/protocol"
	"github.com/mattjoyce/snapshot-exporter/internal/report"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
	"github.com/mattjoyce/snapshot-exporter/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type captureReporter struct {
	mu      sync.Mutex
	reports []report.Report
	err     error
}

func (c *captureReporter) Report(_ context.Context, r report.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return c.err
}

func (c *captureReporter) all() []report.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report.Report(nil), c.reports...)
}

type failingClaimer struct{}

func (failingClaimer) Claim(context.Context, *job.ExportJob, time.Duration) (ledger.Claim, error) {
	return ledger.Claim{}, errors.New("database is locked")
}

type fixture struct {
	fake     *gatewaytest.Fake
	ledger   ledger.Ledger
	reporter *captureReporter
	d        *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	l := ledger.NewSQL(db, ledger.DialectSQLite)
	t.Cleanup(func() { _ = l.Close() })

	logger := log.Discard()
	fake := gatewaytest.New()
	sched := scheduler.New(nil, scheduler.Policy{Multiplier: 1}, logger)
	cleaner := cleanup.New(fake, sched, l, cleanup.Config{Attempts: 2, RetryBase: time.Millisecond}, logger)
	orch := orchestrator.New(fake, sched, l, cleaner, noop.NewTracerProvider().Tracer("test"), orchestrator.Config{
		Naming:        job.Naming{DBName: "mydb"},
		Bucket:        "exports",
		IAMRoleARN:    "arn:aws:iam::123456789012:role/export",
		KMSKeyID:      "alias/export",
		AttemptBudget: 3,
		RetryBase:     time.Millisecond,
		PollBase:      time.Millisecond,
		RestoreWait:   5 * time.Second,
		SnapshotWait:  5 * time.Second,
		ExportWait:    5 * time.Second,
		MinStepBudget: 10 * time.Millisecond,
	}, logger)

	rep := &captureReporter{}
	filter := notification.NewFilter(notification.FilterConfig{DBName: "mydb"})
	d := New(filter, l, orch, rep, nil, Config{
		DBName:           "mydb",
		StaleAfter:       time.Hour,
		InvocationBudget: time.Minute,
		CleanupReserve:   time.Second,
	}, logger)
	return &fixture{fake: fake, ledger: l, reporter: rep, d: d}
}

func snapshotCreated(id string) notification.LifecycleNotification {
	return notification.LifecycleNotification{
		SourceType:    notification.SourceClusterSnapshot,
		EventCategory: notification.CategoryCreation,
		EventID:       "RDS-EVENT-0169",
		SourceID:      id,
		SourceARN:     "arn:aws:rds:us-east-1:123456789012:cluster-snapshot:" + id,
		MessageID:     "msg-" + id,
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDispatchRunsAcceptedNotification(t *testing.T) {
	f := setup(t)

	ticket, err := f.d.Dispatch(context.Background(), snapshotCreated("rds:mydb-2026-03-01-10-00"))
	require.NoError(t, err)
	assert.Equal(t, DecisionStarted, ticket.Decision)
	assert.Equal(t, ledger.ClaimAcquired, ticket.Claim)
	assert.NotEmpty(t, ticket.JobID)

	reps := f.reporter.all()
	require.Len(t, reps, 1)
	assert.Equal(t, job.StateCrawlReady, reps[0].State)
	assert.Equal(t, ticket.JobID, reps[0].JobID)
	assert.Equal(t, "mydb", reps[0].DBName)
	assert.Empty(t, f.fake.Clusters())
	assert.Empty(t, f.fake.Snapshots())

	stored, err := f.ledger.Get(context.Background(), "rds:mydb-2026-03-01-10-00")
	require.NoError(t, err)
	assert.Equal(t, job.StateCrawlReady, stored.State)
}

func TestDispatchIgnoresFilteredNotification(t *testing.T) {
	f := setup(t)

	cases := map[string]notification.LifecycleNotification{
		"other database": snapshotCreated("rds:otherdb-2026-03-01"),
		"working snapshot": snapshotCreated("snapexp-abc-snap"),
		"instance event": func() notification.LifecycleNotification {
			n := snapshotCreated("rds:mydb-2026-03-01")
			n.SourceType = notification.SourceInstance
			return n
		}(),
		"backup category": func() notification.LifecycleNotification {
			n := snapshotCreated("rds:mydb-2026-03-01")
			n.EventCategory = notification.CategoryBackup
			return n
		}(),
	}
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			ticket, err := f.d.Dispatch(context.Background(), n)
			require.NoError(t, err)
			assert.Equal(t, DecisionIgnored, ticket.Decision)
			assert.NotEmpty(t, ticket.Reason)
		})
	}
	assert.Empty(t, f.fake.History())
	assert.Empty(t, f.reporter.all())
}

func TestDispatchReplayIsNoOp(t *testing.T) {
	f := setup(t)
	n := snapshotCreated("rds:mydb-2026-03-01-10-00")

	_, err := f.d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	calls := len(f.fake.History())

	ticket, err := f.d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, DecisionCompleted, ticket.Decision)
	assert.Len(t, f.fake.History(), calls, "replay must not touch the control plane")
	assert.Len(t, f.reporter.all(), 1)
}

func TestAdmitDuplicateWhileInFlight(t *testing.T) {
	f := setup(t)
	n := snapshotCreated("rds:mydb-2026-03-01-10-00")

	first, j, err := f.d.Admit(context.Background(), n)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, DecisionStarted, first.Decision)

	second, j2, err := f.d.Admit(context.Background(), n)
	require.NoError(t, err)
	assert.Nil(t, j2)
	assert.Equal(t, DecisionDuplicate, second.Decision)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestDispatchRetriesAfterFailure(t *testing.T) {
	f := setup(t)
	n := snapshotCreated("rds:mydb-2026-03-01-10-00")
	f.fake.Script(gatewaytest.OpRestore, gateway.Failure(gateway.KindPermanent, "", errors.New("quota exceeded")))

	_, err := f.d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	reps := f.reporter.all()
	require.Len(t, reps, 1)
	assert.Equal(t, job.StateFailed, reps[0].State)
	assert.Contains(t, reps[0].Error, "quota exceeded")

	ticket, err := f.d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimRetried, ticket.Claim)
	reps = f.reporter.all()
	require.Len(t, reps, 2)
	assert.Equal(t, job.StateCrawlReady, reps[1].State)
}

func TestDispatchSurfacesClaimErrors(t *testing.T) {
	f := setup(t)
	d := New(notification.NewFilter(notification.FilterConfig{DBName: "mydb"}), failingClaimer{}, nil, nil, nil, Config{}, log.Discard())

	_, err := d.Dispatch(context.Background(), snapshotCreated("rds:mydb-2026-03-01-10-00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, f.fake.History())
}

func TestReporterErrorDoesNotFailDispatch(t *testing.T) {
	f := setup(t)
	f.reporter.err = errors.New("broker down")

	ticket, err := f.d.Dispatch(context.Background(), snapshotCreated("rds:mydb-2026-03-01-10-00"))
	require.NoError(t, err)
	assert.Equal(t, DecisionStarted, ticket.Decision)
	assert.Len(t, f.reporter.all(), 1)
}

func snsRecord(t *testing.T, source, messageID string, ev protocol.RDSEvent) events.SNSEventRecord {
	t.Helper()
	msg, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.SNSEventRecord{
		EventSource: source,
		SNS: events.SNSEntity{
			MessageID: messageID,
			Message:   string(msg),
			Timestamp: time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC),
		},
	}
}

func TestHandleSNS(t *testing.T) {
	f := setup(t)
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})

	ev := events.SNSEvent{Records: []events.SNSEventRecord{
		snsRecord(t, "aws:sqs", "m0", protocol.RDSEvent{
			EventSource: "db-cluster-snapshot", SourceID: "rds:mydb-2026-03-01-09-00", EventID: "RDS-EVENT-0169",
		}),
		{EventSource: SNSEventSource, SNS: events.SNSEntity{MessageID: "m1", Message: "not json"}},
		snsRecord(t, SNSEventSource, "m2", protocol.RDSEvent{
			EventSource: "db-cluster-snapshot",
			SourceID:    "rds:mydb-2026-03-01-10-00",
			SourceARN:   "arn:aws:rds:us-east-1:123456789012:cluster-snapshot:rds:mydb-2026-03-01-10-00",
			EventID:     "RDS-EVENT-0169",
		}),
	}}

	require.NoError(t, f.d.HandleSNS(ctx, ev))
	reps := f.reporter.all()
	require.Len(t, reps, 1)
	assert.Equal(t, "rds:mydb-2026-03-01-10-00", reps[0].OriginSnapshotID)
	assert.Equal(t, job.StateCrawlReady, reps[0].State)
}

func TestHandleSNSReturnsInfrastructureErrors(t *testing.T) {
	d := New(notification.NewFilter(notification.FilterConfig{DBName: "mydb"}), failingClaimer{}, nil, nil, nil, Config{}, log.Discard())
	ev := events.SNSEvent{Records: []events.SNSEventRecord{
		snsRecord(t, SNSEventSource, "m1", protocol.RDSEvent{
			EventSource: "db-cluster-snapshot", SourceID: "rds:mydb-2026-03-01-10-00", EventID: "RDS-EVENT-0169",
		}),
	}}
	require.Error(t, d.HandleSNS(context.Background(), ev))
}

func TestRunnerExecutesInBackground(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRunner(context.Background(), f.d)

	ticket, err := r.Submit(ctx, snapshotCreated("rds:mydb-2026-03-01-10-00"))
	require.NoError(t, err)
	assert.Equal(t, DecisionStarted, ticket.Decision)
	cancel()

	r.Wait()
	reps := f.reporter.all()
	require.Len(t, reps, 1)
	assert.Equal(t, job.StateCrawlReady, reps[0].State, "request cancellation must not stop the job")

	ignored, err := r.Submit(context.Background(), snapshotCreated("rds:otherdb-1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionIgnored, ignored.Decision)
	r.Wait()
}
