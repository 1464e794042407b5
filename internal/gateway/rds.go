package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// RDSAPI is the subset of the RDS client the gateway uses.
type RDSAPI interface {
	RestoreDBClusterFromSnapshot(ctx context.Context, in *rds.RestoreDBClusterFromSnapshotInput, optFns ...func(*rds.Options)) (*rds.RestoreDBClusterFromSnapshotOutput, error)
	DescribeDBClusters(ctx context.Context, in *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	CreateDBClusterSnapshot(ctx context.Context, in *rds.CreateDBClusterSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBClusterSnapshotOutput, error)
	DescribeDBClusterSnapshots(ctx context.Context, in *rds.DescribeDBClusterSnapshotsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClusterSnapshotsOutput, error)
	StartExportTask(ctx context.Context, in *rds.StartExportTaskInput, optFns ...func(*rds.Options)) (*rds.StartExportTaskOutput, error)
	DescribeExportTasks(ctx context.Context, in *rds.DescribeExportTasksInput, optFns ...func(*rds.Options)) (*rds.DescribeExportTasksOutput, error)
	DeleteDBClusterSnapshot(ctx context.Context, in *rds.DeleteDBClusterSnapshotInput, optFns ...func(*rds.Options)) (*rds.DeleteDBClusterSnapshotOutput, error)
	DeleteDBCluster(ctx context.Context, in *rds.DeleteDBClusterInput, optFns ...func(*rds.Options)) (*rds.DeleteDBClusterOutput, error)
}

// RestoreOptions shape the working cluster.
type RestoreOptions struct {
	Engine           string
	EngineVersion    string
	EngineMode       string
	SubnetGroup      string
	SecurityGroupIDs []string
	KMSKeyID         string
}

// RDS implements Gateway on the RDS control plane.
type RDS struct {
	api         RDSAPI
	restore     RestoreOptions
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewRDS wraps an RDS client. callTimeout bounds every individual request.
func NewRDS(api RDSAPI, restore RestoreOptions, callTimeout time.Duration, logger *slog.Logger) *RDS {
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	return &RDS{
		api:         api,
		restore:     restore,
		callTimeout: callTimeout,
		logger:      logger.With("component", "gateway"),
	}
}

var _ Gateway = (*RDS)(nil)

func (g *RDS) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.callTimeout)
}

func tags(jobID, origin string) []types.Tag {
	out := []types.Tag{{Key: aws.String(job.TagJobID), Value: aws.String(jobID)}}
	if origin != "" {
		out = append(out, types.Tag{Key: aws.String(job.TagOrigin), Value: aws.String(origin)})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// RestoreClusterFromSnapshot starts an asynchronous restore into req.ClusterID.
func (g *RDS) RestoreClusterFromSnapshot(ctx context.Context, req RestoreRequest) StepResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	in := &rds.RestoreDBClusterFromSnapshotInput{
		DBClusterIdentifier: aws.String(req.ClusterID),
		SnapshotIdentifier:  aws.String(req.SnapshotID),
		Engine:              aws.String(g.restore.Engine),
		EngineVersion:       optional(g.restore.EngineVersion),
		EngineMode:          optional(g.restore.EngineMode),
		DBSubnetGroupName:   optional(g.restore.SubnetGroup),
		VpcSecurityGroupIds: g.restore.SecurityGroupIDs,
		KmsKeyId:            optional(g.restore.KMSKeyID),
		CopyTagsToSnapshot:  aws.Bool(true),
		DeletionProtection:  aws.Bool(false),
		Tags:                tags(req.JobID, req.OriginID),
	}
	out, err := g.api.RestoreDBClusterFromSnapshot(ctx, in)
	if err != nil {
		g.logger.Debug("restore failed", "cluster_id", req.ClusterID, "error", err)
		return FromError(req.ClusterID, err)
	}
	id := req.ClusterID
	if out.DBCluster != nil && out.DBCluster.DBClusterIdentifier != nil {
		id = aws.ToString(out.DBCluster.DBClusterIdentifier)
	}
	return Ok(id)
}

// DescribeCluster probes the working cluster.
func (g *RDS) DescribeCluster(ctx context.Context, clusterID string) StatusResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	out, err := g.api.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if err != nil {
		return StatusResult{StepResult: FromError(clusterID, err)}
	}
	if len(out.DBClusters) == 0 {
		return StatusResult{StepResult: Failure(KindNotFound, clusterID, fmt.Errorf("cluster %s not found", clusterID))}
	}
	status := aws.ToString(out.DBClusters[0].Status)
	return StatusResult{StepResult: Ok(clusterID), Status: clusterStatus(status), Detail: status}
}

// CreateClusterSnapshot starts a manual snapshot of the working cluster.
func (g *RDS) CreateClusterSnapshot(ctx context.Context, req SnapshotRequest) StepResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	_, err := g.api.CreateDBClusterSnapshot(ctx, &rds.CreateDBClusterSnapshotInput{
		DBClusterIdentifier:         aws.String(req.ClusterID),
		DBClusterSnapshotIdentifier: aws.String(req.SnapshotID),
		Tags:                        tags(req.JobID, req.OriginID),
	})
	if err != nil {
		g.logger.Debug("create snapshot failed", "snapshot_id", req.SnapshotID, "error", err)
		return FromError(req.SnapshotID, err)
	}
	return Ok(req.SnapshotID)
}

// DescribeClusterSnapshot probes the working snapshot.
func (g *RDS) DescribeClusterSnapshot(ctx context.Context, snapshotID string) StatusResult {
	snap, res := g.clusterSnapshot(ctx, snapshotID)
	if !res.Success {
		return StatusResult{StepResult: res}
	}
	status := aws.ToString(snap.Status)
	return StatusResult{
		StepResult:      res,
		Status:          snapshotStatus(status),
		PercentComplete: int(aws.ToInt32(snap.PercentProgress)),
		Detail:          status,
	}
}

func (g *RDS) clusterSnapshot(ctx context.Context, snapshotID string) (*types.DBClusterSnapshot, StepResult) {
	ctx, cancel := g.call(ctx)
	defer cancel()

	out, err := g.api.DescribeDBClusterSnapshots(ctx, &rds.DescribeDBClusterSnapshotsInput{
		DBClusterSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		return nil, FromError(snapshotID, err)
	}
	if len(out.DBClusterSnapshots) == 0 {
		return nil, Failure(KindNotFound, snapshotID, fmt.Errorf("cluster snapshot %s not found", snapshotID))
	}
	return &out.DBClusterSnapshots[0], Ok(snapshotID)
}

// StartExportTask resolves the working snapshot ARN and starts the export.
func (g *RDS) StartExportTask(ctx context.Context, req ExportRequest) StepResult {
	snap, res := g.clusterSnapshot(ctx, req.SnapshotID)
	if !res.Success {
		res.ResourceID = req.TaskID
		return res
	}

	ctx, cancel := g.call(ctx)
	defer cancel()

	out, err := g.api.StartExportTask(ctx, &rds.StartExportTaskInput{
		ExportTaskIdentifier: aws.String(req.TaskID),
		SourceArn:            snap.DBClusterSnapshotArn,
		S3BucketName:         aws.String(req.Bucket),
		S3Prefix:             optional(req.Prefix),
		IamRoleArn:           aws.String(req.IAMRoleARN),
		KmsKeyId:             aws.String(req.KMSKeyID),
	})
	if err != nil {
		g.logger.Debug("start export failed", "export_task_id", req.TaskID, "error", err)
		return FromError(req.TaskID, err)
	}
	id := req.TaskID
	if out.ExportTaskIdentifier != nil {
		id = aws.ToString(out.ExportTaskIdentifier)
	}
	return Ok(id)
}

// DescribeExportStatus probes an export task.
func (g *RDS) DescribeExportStatus(ctx context.Context, exportTaskID string) StatusResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	out, err := g.api.DescribeExportTasks(ctx, &rds.DescribeExportTasksInput{
		ExportTaskIdentifier: aws.String(exportTaskID),
	})
	if err != nil {
		return StatusResult{StepResult: FromError(exportTaskID, err)}
	}
	if len(out.ExportTasks) == 0 {
		return StatusResult{StepResult: Failure(KindNotFound, exportTaskID, fmt.Errorf("export task %s not found", exportTaskID))}
	}
	task := out.ExportTasks[0]
	status := aws.ToString(task.Status)
	res := StatusResult{
		StepResult:      Ok(exportTaskID),
		Status:          exportStatus(status),
		PercentComplete: int(aws.ToInt32(task.PercentProgress)),
		Detail:          status,
	}
	if cause := aws.ToString(task.FailureCause); cause != "" {
		res.Detail = status + ": " + cause
	}
	return res
}

// DeleteSnapshot removes the working snapshot. A missing snapshot is success.
func (g *RDS) DeleteSnapshot(ctx context.Context, snapshotID string) StepResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	_, err := g.api.DeleteDBClusterSnapshot(ctx, &rds.DeleteDBClusterSnapshotInput{
		DBClusterSnapshotIdentifier: aws.String(snapshotID),
	})
	return deleted(snapshotID, err)
}

// DeleteCluster removes the working cluster without a final snapshot.
func (g *RDS) DeleteCluster(ctx context.Context, clusterID string) StepResult {
	ctx, cancel := g.call(ctx)
	defer cancel()

	_, err := g.api.DeleteDBCluster(ctx, &rds.DeleteDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
		SkipFinalSnapshot:   aws.Bool(true),
	})
	return deleted(clusterID, err)
}

func deleted(id string, err error) StepResult {
	if err == nil {
		return Ok(id)
	}
	if Classify(err) == KindNotFound {
		return Ok(id)
	}
	return FromError(id, err)
}

func clusterStatus(s string) Status {
	switch strings.ToLower(s) {
	case "available":
		return StatusComplete
	case "creating":
		return StatusPending
	case "failed", "inaccessible-encryption-credentials", "inaccessible-encryption-credentials-recoverable",
		"incompatible-network", "incompatible-parameters", "incompatible-restore", "deleting", "stopped":
		return StatusFailed
	default:
		return StatusInProgress
	}
}

func snapshotStatus(s string) Status {
	switch strings.ToLower(s) {
	case "available":
		return StatusComplete
	case "creating":
		return StatusInProgress
	case "failed", "deleting", "deleted":
		return StatusFailed
	default:
		return StatusPending
	}
}

func exportStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "STARTING":
		return StatusPending
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETE":
		return StatusComplete
	case "FAILED", "CANCELING", "CANCELED":
		return StatusFailed
	default:
		return StatusPending
	}
}
