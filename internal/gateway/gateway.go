// Package gateway is the single seam between the export workflow and the
// database control plane.
package gateway

import (
	"context"
	"fmt"
)

// ErrorKind classifies a failed control plane call.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindTransient       ErrorKind = "transient"
	KindAlreadyExists   ErrorKind = "already_exists"
	KindNotFound        ErrorKind = "not_found"
	KindPermanent       ErrorKind = "permanent"
	KindBudgetExhausted ErrorKind = "budget_exhausted"
)

// StepResult is the uniform return shape of every Gateway call.
type StepResult struct {
	Success    bool
	ResourceID string
	ErrorKind  ErrorKind
	Retryable  bool
	Err        error
}

// Ok is a successful result for id.
func Ok(id string) StepResult {
	return StepResult{Success: true, ResourceID: id}
}

// Failure builds a failed result; only transient failures are retryable.
func Failure(kind ErrorKind, id string, err error) StepResult {
	return StepResult{
		ResourceID: id,
		ErrorKind:  kind,
		Retryable:  kind == KindTransient,
		Err:        err,
	}
}

// Attachable reports whether the call failed only because the resource
// already exists and can be adopted.
func (r StepResult) Attachable() bool {
	return !r.Success && r.ErrorKind == KindAlreadyExists
}

// Error renders the failure for logs and reports.
func (r StepResult) Error() string {
	if r.Success {
		return ""
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.ErrorKind, r.Err)
	}
	return string(r.ErrorKind)
}

// Status is the normalised progress of an asynchronous operation.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether polling can stop.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// StatusResult is a StepResult plus the probed status.
type StatusResult struct {
	StepResult
	Status          Status
	PercentComplete int
	Detail          string
}

// RestoreRequest asks for a provisioned cluster built from a snapshot.
type RestoreRequest struct {
	SnapshotID string
	ClusterID  string
	JobID      string
	OriginID   string
}

// SnapshotRequest asks for a manual snapshot of the working cluster.
type SnapshotRequest struct {
	ClusterID  string
	SnapshotID string
	JobID      string
	OriginID   string
}

// ExportRequest asks for an export of the working snapshot to object storage.
type ExportRequest struct {
	TaskID     string
	SnapshotID string
	Bucket     string
	Prefix     string
	IAMRoleARN string
	KMSKeyID   string
}

// Gateway is implemented by control plane bindings. Expected remote failures
// are reported through StepResult, never as panics.
type Gateway interface {
	RestoreClusterFromSnapshot(ctx context.Context, req RestoreRequest) StepResult
	CreateClusterSnapshot(ctx context.Context, req SnapshotRequest) StepResult
	StartExportTask(ctx context.Context, req ExportRequest) StepResult
	DescribeExportStatus(ctx context.Context, exportTaskID string) StatusResult
	DescribeCluster(ctx context.Context, clusterID string) StatusResult
	DescribeClusterSnapshot(ctx context.Context, snapshotID string) StatusResult
	DeleteSnapshot(ctx context.Context, snapshotID string) StepResult
	DeleteCluster(ctx context.Context, clusterID string) StepResult
}
