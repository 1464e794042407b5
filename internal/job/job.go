// Package job holds the ExportJob record driven by the orchestrator and
// persisted by the ledger.
package job

import (
	"fmt"
	"time"
)

// State is the lifecycle position of an ExportJob.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateRestoring    State = "RESTORING"
	StateSnapshotting State = "SNAPSHOTTING"
	StateExporting    State = "EXPORTING"
	StateCleaningUp   State = "CLEANING_UP"
	StateCrawlReady   State = "CRAWL_READY"
	StateFailed       State = "FAILED"
	StateAbandoned    State = "ABANDONED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCrawlReady, StateFailed, StateAbandoned:
		return true
	default:
		return false
	}
}

func (s State) rank() int {
	switch s {
	case StateReceived:
		return 0
	case StateRestoring:
		return 1
	case StateSnapshotting:
		return 2
	case StateExporting:
		return 3
	case StateCleaningUp:
		return 4
	case StateCrawlReady, StateFailed, StateAbandoned:
		return 5
	default:
		return -1
	}
}

// CanTransition reports whether from -> to respects the forward-only order.
// Every non-terminal state may jump to CLEANING_UP; terminal states are only
// reachable from CLEANING_UP.
func CanTransition(from, to State) bool {
	if from.rank() < 0 || to.rank() < 0 || from.Terminal() {
		return false
	}
	if to.Terminal() {
		return from == StateCleaningUp
	}
	if to == StateCleaningUp {
		return from != StateCleaningUp
	}
	return to.rank() == from.rank()+1
}

// Step names a start call whose attempts are counted separately.
type Step string

const (
	StepRestore  Step = "restore"
	StepSnapshot Step = "snapshot"
	StepExport   Step = "export"
	StepCleanup  Step = "cleanup"
)

// ExportJob is the unit of work for one snapshot export.
type ExportJob struct {
	JobID             string       `json:"job_id"`
	OriginSnapshotID  string       `json:"origin_snapshot_id"`
	OriginSnapshotARN string       `json:"origin_snapshot_arn,omitempty"`
	SourceType        string       `json:"source_type"`
	WorkingClusterID  string       `json:"working_cluster_id,omitempty"`
	WorkingSnapshotID string       `json:"working_snapshot_id,omitempty"`
	ExportTaskID      string       `json:"export_task_id,omitempty"`
	State             State        `json:"state"`
	Attempts          map[Step]int `json:"attempts"`
	CreatedAt         time.Time    `json:"created_at"`
	LastTransitionAt  time.Time    `json:"last_transition_at"`
	LastErrorKind     string       `json:"last_error_kind,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
	Lease             string       `json:"lease"`
}

// New returns a RECEIVED job for the given origin snapshot.
func New(jobID, originSnapshotID string, now time.Time) *ExportJob {
	now = now.UTC()
	return &ExportJob{
		JobID:            jobID,
		OriginSnapshotID: originSnapshotID,
		State:            StateReceived,
		Attempts:         map[Step]int{},
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

// Transition advances the job to the next state.
func (j *ExportJob) Transition(to State, now time.Time) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("invalid transition %s -> %s", j.State, to)
	}
	j.State = to
	j.LastTransitionAt = now.UTC()
	return nil
}

// Attempt increments and returns the attempt counter for step.
func (j *ExportJob) Attempt(step Step) int {
	if j.Attempts == nil {
		j.Attempts = map[Step]int{}
	}
	j.Attempts[step]++
	return j.Attempts[step]
}

// RecordError keeps the most recent failure on the job.
func (j *ExportJob) RecordError(kind string, err error) {
	j.LastErrorKind = kind
	if err != nil {
		j.LastError = err.Error()
	} else {
		j.LastError = ""
	}
}

// Resources lists every working resource id recorded on the job.
func (j *ExportJob) Resources() []string {
	var out []string
	for _, id := range []string{j.WorkingClusterID, j.WorkingSnapshotID, j.ExportTaskID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy.
func (j *ExportJob) Clone() *ExportJob {
	c := *j
	c.Attempts = make(map[Step]int, len(j.Attempts))
	for k, v := range j.Attempts {
		c.Attempts[k] = v
	}
	return &c
}

// CleanupMarker records a working resource whose deletion ultimately failed.
type CleanupMarker struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	OriginSnapshotID string    `json:"origin_snapshot_id"`
	ResourceType     string    `json:"resource_type"`
	ResourceID       string    `json:"resource_id"`
	ErrorKind        string    `json:"error_kind"`
	Error            string    `json:"error"`
	RecordedAt       time.Time `json:"recorded_at"`
}

const (
	ResourceCluster  = "cluster"
	ResourceSnapshot = "snapshot"
)
