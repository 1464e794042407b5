package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/snapshot-exporter/internal/cleanup"
	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/log"
	"github.com/mattjoyce/snapshot-exporter/internal/orchestrator"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func failedOutcome() orchestrator.Outcome {
	j := job.New("abc", "mydb-snap-1", at)
	j.WorkingClusterID = "snapexp-abc"
	j.Attempts[job.StepSnapshot] = 1
	return orchestrator.Outcome{
		Job:       j,
		Final:     job.StateFailed,
		LastState: job.StateRestoring,
		ErrorKind: gateway.KindPermanent,
		Cause:     errors.New("snapshot rejected: SnapshotQuotaExceeded"),
		Cleanup: cleanup.Report{Unresolved: []job.CleanupMarker{{
			JobID: "abc", ResourceType: job.ResourceCluster, ResourceID: "snapexp-abc",
		}}},
	}
}

func succeededOutcome() orchestrator.Outcome {
	j := job.New("def", "mydb-snap-2", at)
	j.WorkingClusterID = "snapexp-def"
	j.WorkingSnapshotID = "snapexp-def-snap"
	j.ExportTaskID = "snapexp-def"
	return orchestrator.Outcome{
		Job:        j,
		Final:      job.StateCrawlReady,
		LastState:  job.StateExporting,
		ExportPath: "s3://exports/mydb/mydb-snap-2/snapexp-def/",
	}
}

func TestBuild(t *testing.T) {
	r := Build(failedOutcome(), "mydb", at)
	assert.Equal(t, "abc", r.JobID)
	assert.Equal(t, job.StateFailed, r.State)
	assert.Equal(t, job.StateRestoring, r.LastState)
	assert.Equal(t, "permanent", r.ErrorKind)
	assert.Contains(t, r.Error, "SnapshotQuotaExceeded")
	assert.Equal(t, []string{"snapexp-abc"}, r.Resources)
	assert.Len(t, r.Unresolved, 1)
	assert.False(t, r.Succeeded())
	assert.Equal(t, EventFailed, r.EventType())

	ok := Build(succeededOutcome(), "mydb", at)
	assert.True(t, ok.Succeeded())
	assert.Empty(t, ok.Error)
	assert.Equal(t, EventCrawlReady, ok.EventType())
	assert.Equal(t, EventAbandoned, Report{State: job.StateAbandoned}.EventType())
}

func TestLogReporterAlertsOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Options{Level: "INFO", Format: "json", Writer: &buf})

	require.NoError(t, NewLogReporter(logger).Report(context.Background(), Build(failedOutcome(), "mydb", at)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, true, entry["alert"])
	assert.Equal(t, "abc", entry["job_id"])
	assert.Equal(t, "RESTORING", entry["last_state"])
	assert.Contains(t, entry["error"], "SnapshotQuotaExceeded")
	assert.Equal(t, []any{"snapexp-abc"}, entry["unresolved_cleanup"])
}

func TestLogReporterInfoOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Options{Level: "INFO", Format: "json", Writer: &buf})

	require.NoError(t, NewLogReporter(logger).Report(context.Background(), Build(succeededOutcome(), "mydb", at)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "s3://exports/mydb/mydb-snap-2/snapexp-def/", entry["export_path"])
	assert.NotContains(t, entry, "alert")
}

func TestEventPublisher(t *testing.T) {
	logger := watermill.NewSlogLogger(log.Discard())
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger)
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "exports")
	require.NoError(t, err)

	pub := NewEventPublisher(pubSub, "exports")
	require.NoError(t, pub.Report(ctx, Build(failedOutcome(), "mydb", at)))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, EventFailed, msg.Metadata.Get(EventTypeMetadataKey))
		assert.Equal(t, "abc", msg.Metadata.Get(JobIDMetadataKey))
		var got Report
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, job.StateFailed, got.State)
		assert.Equal(t, "mydb-snap-1", got.OriginSnapshotID)
	case <-ctx.Done():
		t.Fatal("no event published")
	}
}

func TestNewPublisher(t *testing.T) {
	logger := watermill.NewSlogLogger(log.Discard())

	p, err := NewPublisher(SinkNone, nil, logger)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewPublisher("GoChannel", nil, logger)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Close())

	_, err = NewPublisher(SinkKafka, nil, logger)
	assert.Error(t, err)

	_, err = NewPublisher("sqs", nil, logger)
	assert.Error(t, err)
}

type fakeGlue struct {
	names []string
	err   error
}

func (f *fakeGlue) StartCrawler(_ context.Context, in *glue.StartCrawlerInput, _ ...func(*glue.Options)) (*glue.StartCrawlerOutput, error) {
	f.names = append(f.names, aws.ToString(in.Name))
	return &glue.StartCrawlerOutput{}, f.err
}

func TestGlueCrawler(t *testing.T) {
	api := &fakeGlue{}
	c := NewGlueCrawler(api, "mydb-rds-snapshot-crawler", log.Discard())

	require.NoError(t, c.Report(context.Background(), Build(failedOutcome(), "mydb", at)))
	assert.Empty(t, api.names, "failed exports must not start the crawler")

	require.NoError(t, c.Report(context.Background(), Build(succeededOutcome(), "mydb", at)))
	assert.Equal(t, []string{"mydb-rds-snapshot-crawler"}, api.names)

	api.err = &types.CrawlerRunningException{Message: aws.String("running")}
	assert.NoError(t, c.Report(context.Background(), Build(succeededOutcome(), "mydb", at)))

	api.err = &types.EntityNotFoundException{Message: aws.String("no such crawler")}
	assert.Error(t, c.Report(context.Background(), Build(succeededOutcome(), "mydb", at)))
}

type recordingReporter struct {
	got []Report
	err error
}

func (r *recordingReporter) Report(_ context.Context, rep Report) error {
	r.got = append(r.got, rep)
	return r.err
}

func TestMultiReportsToAll(t *testing.T) {
	a := &recordingReporter{err: errors.New("a down")}
	b := &recordingReporter{}
	err := Multi{a, nil, b}.Report(context.Background(), Build(succeededOutcome(), "mydb", at))
	assert.ErrorContains(t, err, "a down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
