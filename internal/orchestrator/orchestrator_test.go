package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mattjoyce/snapshot-exporter/internal/cleanup"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway/gatewaytest"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/ledger"
	"github.com/mattjoyce/snapshot-exporter/internal/log"
	"github.com/mattjoyce/snapshot-exporter/internal/scheduler"
)

type saved struct {
	from, to job.State
}

type memStore struct {
	mu       sync.Mutex
	saves    []saved
	markers  []job.CleanupMarker
	loseAt   job.State
	failSave error
}

func (s *memStore) Save(_ context.Context, j *job.ExportJob, from job.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loseAt != "" && j.State == s.loseAt {
		return ledger.ErrLeaseLost
	}
	s.saves = append(s.saves, saved{from: from, to: j.State})
	return s.failSave
}

func (s *memStore) RecordUnresolvedCleanup(_ context.Context, m job.CleanupMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, m)
	return nil
}

func (s *memStore) states() []job.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.State, 0, len(s.saves))
	for _, sv := range s.saves {
		out = append(out, sv.to)
	}
	return out
}

type harness struct {
	fake  *gatewaytest.Fake
	store *memStore
	orch  *Orchestrator
}

func testConfig() Config {
	return Config{
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
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := log.Discard()
	sched := scheduler.New(nil, scheduler.Policy{Multiplier: 1}, logger)
	fake := gatewaytest.New()
	store := &memStore{}
	cleaner := cleanup.New(fake, sched, store, cleanup.Config{Attempts: 2, RetryBase: time.Millisecond}, logger)
	return &harness{
		fake:  fake,
		store: store,
		orch:  New(fake, sched, store, cleaner, noop.NewTracerProvider().Tracer("test"), cfg, logger),
	}
}

func newJob(origin string) *job.ExportJob {
	now := time.Now()
	j := job.New(job.DeriveID(origin, now), origin, now)
	j.Lease = "lease-1"
	return j
}

func roomyBudget() *scheduler.Budget {
	return scheduler.NewBudget(nil, time.Now().Add(time.Minute), time.Second)
}

func (h *harness) assertNoWorkingResources(t *testing.T) {
	t.Helper()
	assert.Empty(t, h.fake.Clusters(), "working clusters left behind")
	assert.Empty(t, h.fake.Snapshots(), "working snapshots left behind")
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-1")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	require.NoError(t, out.Cause)
	assert.True(t, out.Succeeded())
	assert.Equal(t, job.StateCrawlReady, j.State)
	assert.Equal(t, job.StateExporting, out.LastState)
	assert.Equal(t, []string{"snapexp-" + j.JobID}, h.fake.Exports())
	assert.Equal(t, "s3://exports/mydb/mydb-snap-1/snapexp-"+j.JobID+"/", out.ExportPath)
	h.assertNoWorkingResources(t)

	assert.Equal(t, []job.State{
		job.StateRestoring, job.StateSnapshotting, job.StateExporting,
		job.StateCleaningUp, job.StateCrawlReady,
	}, h.store.states())
	assert.Equal(t, 1, j.Attempts[job.StepRestore])
	assert.Equal(t, 1, j.Attempts[job.StepSnapshot])
	assert.Equal(t, 1, j.Attempts[job.StepExport])
	assert.True(t, out.Cleanup.Clean())
}

func TestRunRestoresFromARNWhenKnown(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-arn")
	j.OriginSnapshotARN = "arn:aws:rds:eu-west-1:123456789012:cluster-snapshot:mydb-snap-arn"

	assert.Equal(t, j.OriginSnapshotARN, snapshotRef(j))
	out := h.orch.Run(context.Background(), j, roomyBudget())
	assert.True(t, out.Succeeded())
}

func TestRunAttachesToStartedExport(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-2")
	taskID := "snapexp-" + j.JobID
	h.fake.SeedExport(taskID, gateway.StatusInProgress)

	out := h.orch.Run(context.Background(), j, roomyBudget())

	require.True(t, out.Succeeded(), "cause: %v", out.Cause)
	assert.Equal(t, []string{taskID}, h.fake.Calls(gatewaytest.OpExport))
	assert.Len(t, h.fake.Exports(), 1)
	assert.Equal(t, taskID, j.ExportTaskID)
	h.assertNoWorkingResources(t)
}

func TestRunAttachesToExistingCluster(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-3")
	h.fake.SeedCluster("snapexp-"+j.JobID, gateway.StatusComplete)

	out := h.orch.Run(context.Background(), j, roomyBudget())

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, j.Attempts[job.StepRestore])
	h.assertNoWorkingResources(t)
}

func TestRunPermanentSnapshotFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script(gatewaytest.OpSnapshot,
		gateway.Failure(gateway.KindPermanent, "", errors.New("SnapshotQuotaExceeded: quota reached")))
	j := newJob("mydb-snap-4")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.Equal(t, job.StateFailed, out.Final)
	assert.Equal(t, job.StateRestoring, out.LastState)
	assert.Equal(t, gateway.KindPermanent, out.ErrorKind)
	assert.False(t, out.Deferred)
	assert.Contains(t, out.Cause.Error(), "quota")
	assert.Contains(t, j.LastError, "quota")
	assert.Equal(t, "permanent", j.LastErrorKind)
	assert.Empty(t, j.WorkingSnapshotID)
	assert.Equal(t, 1, j.Attempts[job.StepSnapshot])

	assert.Equal(t, []string{"snapexp-" + j.JobID}, h.fake.Calls(gatewaytest.OpDeleteCluster))
	assert.Empty(t, h.fake.Calls(gatewaytest.OpDeleteSnapshot))
	assert.Empty(t, h.fake.Calls(gatewaytest.OpExport))
	h.assertNoWorkingResources(t)
}

func TestRunRetryBound(t *testing.T) {
	h := newHarness(t, nil)
	throttled := gateway.Failure(gateway.KindTransient, "", errors.New("Throttling"))
	h.fake.Script(gatewaytest.OpRestore, throttled, throttled, throttled, throttled)
	j := newJob("mydb-snap-5")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.Equal(t, job.StateFailed, out.Final)
	assert.Equal(t, gateway.KindBudgetExhausted, out.ErrorKind)
	assert.Len(t, h.fake.Calls(gatewaytest.OpRestore), 3)
	assert.Equal(t, 3, j.Attempts[job.StepRestore])

	// The restore may have gone through despite the errors.
	assert.Equal(t, "snapexp-"+j.JobID, j.WorkingClusterID)
	assert.Len(t, h.fake.Calls(gatewaytest.OpDeleteCluster), 1)
	assert.True(t, out.Cleanup.Clean())
}

func TestRunRecoversFromTransientStartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.Script(gatewaytest.OpExport, gateway.Failure(gateway.KindTransient, "", errors.New("InternalFailure")))
	j := newJob("mydb-snap-6")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	require.True(t, out.Succeeded(), "cause: %v", out.Cause)
	assert.Equal(t, 2, j.Attempts[job.StepExport])
	h.assertNoWorkingResources(t)
}

func TestRunBudgetStarvation(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-7")
	budget := scheduler.NewBudget(nil, time.Now().Add(500*time.Millisecond), time.Second)

	out := h.orch.Run(context.Background(), j, budget)

	assert.Equal(t, job.StateAbandoned, out.Final)
	assert.True(t, out.Deferred)
	assert.Equal(t, gateway.KindBudgetExhausted, out.ErrorKind)
	assert.Empty(t, h.fake.History(), "no control plane call may be issued")
	assert.Equal(t, []job.State{job.StateCleaningUp, job.StateAbandoned}, h.store.states())
}

func TestRunExportFailedStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.ScriptStatus(gatewaytest.OpDescribeExport, gateway.StatusFailed)
	j := newJob("mydb-snap-8")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.Equal(t, job.StateFailed, out.Final)
	assert.Equal(t, job.StateExporting, out.LastState)
	assert.Empty(t, out.ExportPath)
	assert.Len(t, h.fake.Calls(gatewaytest.OpDeleteSnapshot), 1)
	assert.Len(t, h.fake.Calls(gatewaytest.OpDeleteCluster), 1)
	h.assertNoWorkingResources(t)
}

func TestRunPollTimeoutAbandons(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RestoreWait = 30 * time.Millisecond })
	h.fake.PollsUntilReady = 1 << 20
	j := newJob("mydb-snap-9")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.Equal(t, job.StateAbandoned, out.Final)
	assert.Equal(t, job.StateRestoring, out.LastState)
	assert.False(t, out.Deferred)
	assert.Greater(t, len(h.fake.Calls(gatewaytest.OpDescribeCluster)), 1)
	h.assertNoWorkingResources(t)
}

func TestRunCancelledContextStillCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.PollsUntilReady = 1 << 20
	j := newJob("mydb-snap-10")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := h.orch.Run(ctx, j, roomyBudget())

	assert.Equal(t, job.StateAbandoned, out.Final)
	assert.True(t, out.Deferred)
	h.assertNoWorkingResources(t)
}

func TestRunLeaseLostStopsWithoutCleanup(t *testing.T) {
	h := newHarness(t, nil)
	h.store.loseAt = job.StateSnapshotting
	j := newJob("mydb-snap-11")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.True(t, out.Superseded)
	assert.False(t, out.Final.Terminal())
	assert.Empty(t, h.fake.Calls(gatewaytest.OpDeleteCluster))
	assert.Empty(t, h.fake.Calls(gatewaytest.OpDeleteSnapshot))
}

func TestRunPersistenceFailureDoesNotLeak(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failSave = errors.New("database is locked")
	j := newJob("mydb-snap-12")

	out := h.orch.Run(context.Background(), j, roomyBudget())

	assert.True(t, out.Succeeded())
	h.assertNoWorkingResources(t)
}

func TestRunRejectsNonReceivedJob(t *testing.T) {
	h := newHarness(t, nil)
	j := newJob("mydb-snap-13")
	require.NoError(t, j.Transition(job.StateCleaningUp, time.Now()))

	out := h.orch.Run(context.Background(), j, roomyBudget())
	assert.Error(t, out.Cause)
	assert.Empty(t, h.fake.History())
}

func TestCleanupInvariantAcrossFailurePoints(t *testing.T) {
	boom := errors.New("AccessDenied")
	cases := []struct {
		name   string
		inject func(f *gatewaytest.Fake)
	}{
		{"restore rejected", func(f *gatewaytest.Fake) {
			f.Script(gatewaytest.OpRestore, gateway.Failure(gateway.KindPermanent, "", boom))
		}},
		{"restore failed while provisioning", func(f *gatewaytest.Fake) {
			f.ScriptStatus(gatewaytest.OpDescribeCluster, gateway.StatusFailed)
		}},
		{"snapshot rejected", func(f *gatewaytest.Fake) {
			f.Script(gatewaytest.OpSnapshot, gateway.Failure(gateway.KindPermanent, "", boom))
		}},
		{"snapshot failed", func(f *gatewaytest.Fake) {
			f.ScriptStatus(gatewaytest.OpDescribeSnapshot, gateway.StatusFailed)
		}},
		{"export rejected", func(f *gatewaytest.Fake) {
			f.Script(gatewaytest.OpExport, gateway.Failure(gateway.KindPermanent, "", boom))
		}},
		{"export failed", func(f *gatewaytest.Fake) {
			f.ScriptStatus(gatewaytest.OpDescribeExport, gateway.StatusFailed)
		}},
		{"snapshot throttled throughout", func(f *gatewaytest.Fake) {
			throttled := gateway.Failure(gateway.KindTransient, "", errors.New("Throttling"))
			f.Script(gatewaytest.OpSnapshot, throttled, throttled, throttled)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tc.inject(h.fake)
			j := newJob("mydb-invariant")

			out := h.orch.Run(context.Background(), j, roomyBudget())

			assert.Equal(t, job.StateFailed, out.Final)
			assert.True(t, out.Final.Terminal())
			h.assertNoWorkingResources(t)

			states := h.store.states()
			require.GreaterOrEqual(t, len(states), 2)
			assert.Equal(t, job.StateCleaningUp, states[len(states)-2])
		})
	}
}

func TestRunRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	h := newHarness(t, nil)
	h.orch.tracer = tp.Tracer("test")
	h.fake.Script(gatewaytest.OpRestore, gateway.Failure(gateway.KindPermanent, "", errors.New("InvalidParameterValue")))

	h.orch.Run(context.Background(), newJob("mydb-spans"), roomyBudget())

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "orchestrator.run")
	require.Contains(t, byName, "orchestrator.start_restore")
	require.Contains(t, byName, "orchestrator.cleanup")
	assert.Equal(t, codes.Error, byName["orchestrator.run"].Status().Code)
	assert.Equal(t, codes.Error, byName["orchestrator.start_restore"].Status().Code)
}
