// Package gatewaytest provides an in-memory control plane for workflow tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattjoyce/snapshot-exporter/internal/gateway"
)

// Op names a Gateway method.
type Op string

const (
	OpRestore          Op = "restore"
	OpSnapshot         Op = "snapshot"
	OpExport           Op = "export"
	OpDescribeCluster  Op = "describe_cluster"
	OpDescribeSnapshot Op = "describe_snapshot"
	OpDescribeExport   Op = "describe_export"
	OpDeleteSnapshot   Op = "delete_snapshot"
	OpDeleteCluster    Op = "delete_cluster"
)

// Call is one recorded invocation.
type Call struct {
	Op Op
	ID string
}

type resource struct {
	polls  int
	status gateway.Status
	tags   map[string]string
}

// Fake behaves like a small control plane: start calls create resources that
// become COMPLETE after PollsUntilReady probes, duplicate creates answer
// already-exists, deletes of missing resources answer not-found. Scripted
// results queued with Script take precedence over that behaviour.
type Fake struct {
	mu sync.Mutex

	PollsUntilReady int

	clusters  map[string]*resource
	snapshots map[string]*resource
	exports   map[string]*resource
	scripts   map[Op][]gateway.StepResult
	statuses  map[Op][]gateway.Status
	calls     []Call
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		PollsUntilReady: 1,
		clusters:        map[string]*resource{},
		snapshots:       map[string]*resource{},
		exports:         map[string]*resource{},
		scripts:         map[Op][]gateway.StepResult{},
		statuses:        map[Op][]gateway.Status{},
	}
}

var _ gateway.Gateway = (*Fake)(nil)

// Script queues results returned, in order, by the next calls of op.
func (f *Fake) Script(op Op, results ...gateway.StepResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[op] = append(f.scripts[op], results...)
}

// ScriptStatus queues statuses returned by the next describe calls of op.
func (f *Fake) ScriptStatus(op Op, statuses ...gateway.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[op] = append(f.statuses[op], statuses...)
}

// SeedExport registers an export task as if a previous run had started it.
func (f *Fake) SeedExport(taskID string, status gateway.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports[taskID] = &resource{status: status, polls: f.PollsUntilReady}
}

// SeedCluster registers an existing working cluster.
func (f *Fake) SeedCluster(clusterID string, status gateway.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters[clusterID] = &resource{status: status, polls: f.PollsUntilReady}
}

// Calls returns the ids passed to op, in call order.
func (f *Fake) Calls(op Op) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c.ID)
		}
	}
	return out
}

// History returns every recorded call.
func (f *Fake) History() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Clusters lists working clusters still present.
func (f *Fake) Clusters() []string { return f.keys(f.clusters) }

// Snapshots lists working snapshots still present.
func (f *Fake) Snapshots() []string { return f.keys(f.snapshots) }

// Exports lists export tasks ever started.
func (f *Fake) Exports() []string { return f.keys(f.exports) }

// Tags returns the tags recorded on a cluster or snapshot.
func (f *Fake) Tags(id string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.clusters[id]; ok {
		return r.tags
	}
	if r, ok := f.snapshots[id]; ok {
		return r.tags
	}
	return nil
}

func (f *Fake) keys(m map[string]*resource) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (f *Fake) record(op Op, id string) (gateway.StepResult, bool) {
	f.calls = append(f.calls, Call{Op: op, ID: id})
	q := f.scripts[op]
	if len(q) == 0 {
		return gateway.StepResult{}, false
	}
	f.scripts[op] = q[1:]
	res := q[0]
	if res.ResourceID == "" {
		res.ResourceID = id
	}
	return res, true
}

func (f *Fake) create(m map[string]*resource, op Op, id string, tags map[string]string) gateway.StepResult {
	if res, ok := f.record(op, id); ok {
		if res.Success {
			m[id] = &resource{status: gateway.StatusInProgress, polls: f.PollsUntilReady, tags: tags}
		}
		return res
	}
	if _, exists := m[id]; exists {
		return gateway.Failure(gateway.KindAlreadyExists, id, fmt.Errorf("%s already exists", id))
	}
	m[id] = &resource{status: gateway.StatusInProgress, polls: f.PollsUntilReady, tags: tags}
	return gateway.Ok(id)
}

func (f *Fake) describe(m map[string]*resource, op Op, id string) gateway.StatusResult {
	f.calls = append(f.calls, Call{Op: op, ID: id})
	if q := f.statuses[op]; len(q) > 0 {
		f.statuses[op] = q[1:]
		return gateway.StatusResult{StepResult: gateway.Ok(id), Status: q[0]}
	}
	r, ok := m[id]
	if !ok {
		return gateway.StatusResult{StepResult: gateway.Failure(gateway.KindNotFound, id, fmt.Errorf("%s not found", id))}
	}
	if r.status == gateway.StatusInProgress || r.status == gateway.StatusPending {
		if r.polls <= 0 {
			r.status = gateway.StatusComplete
		} else {
			r.polls--
		}
	}
	pct := 0
	if r.status == gateway.StatusComplete {
		pct = 100
	}
	return gateway.StatusResult{StepResult: gateway.Ok(id), Status: r.status, PercentComplete: pct}
}

func (f *Fake) remove(m map[string]*resource, op Op, id string) gateway.StepResult {
	if res, ok := f.record(op, id); ok {
		if res.Success {
			delete(m, id)
		}
		return res
	}
	if _, ok := m[id]; !ok {
		// not-found counts as success for deletes
		return gateway.Ok(id)
	}
	delete(m, id)
	return gateway.Ok(id)
}

func tagMap(jobID, origin string) map[string]string {
	return map[string]string{"job-id": jobID, "origin": origin}
}

func (f *Fake) RestoreClusterFromSnapshot(_ context.Context, req gateway.RestoreRequest) gateway.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(f.clusters, OpRestore, req.ClusterID, tagMap(req.JobID, req.OriginID))
}

func (f *Fake) CreateClusterSnapshot(_ context.Context, req gateway.SnapshotRequest) gateway.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clusters[req.ClusterID]; !ok {
		f.calls = append(f.calls, Call{Op: OpSnapshot, ID: req.SnapshotID})
		return gateway.Failure(gateway.KindNotFound, req.SnapshotID, fmt.Errorf("cluster %s not found", req.ClusterID))
	}
	return f.create(f.snapshots, OpSnapshot, req.SnapshotID, tagMap(req.JobID, req.OriginID))
}

func (f *Fake) StartExportTask(_ context.Context, req gateway.ExportRequest) gateway.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(f.exports, OpExport, req.TaskID, nil)
}

func (f *Fake) DescribeExportStatus(_ context.Context, id string) gateway.StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describe(f.exports, OpDescribeExport, id)
}

func (f *Fake) DescribeCluster(_ context.Context, id string) gateway.StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describe(f.clusters, OpDescribeCluster, id)
}

func (f *Fake) DescribeClusterSnapshot(_ context.Context, id string) gateway.StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describe(f.snapshots, OpDescribeSnapshot, id)
}

func (f *Fake) DeleteSnapshot(_ context.Context, id string) gateway.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove(f.snapshots, OpDeleteSnapshot, id)
}

func (f *Fake) DeleteCluster(_ context.Context, id string) gateway.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove(f.clusters, OpDeleteCluster, id)
}
