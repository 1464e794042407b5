// Package report turns a finished export workflow into alerts, events and
// the crawler trigger.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
	"github.com/mattjoyce/snapshot-exporter/internal/orchestrator"
)

// Report describes how an export job ended.
type Report struct {
	JobID            string              `json:"job_id"`
	OriginSnapshotID string              `json:"origin_snapshot_id"`
	DBName           string              `json:"db_name"`
	State            job.State           `json:"state"`
	LastState        job.State           `json:"last_state"`
	ErrorKind        string              `json:"error_kind,omitempty"`
	Error            string              `json:"error,omitempty"`
	Resources        []string            `json:"resources,omitempty"`
	ExportPath       string              `json:"export_path,omitempty"`
	Unresolved       []job.CleanupMarker `json:"unresolved,omitempty"`
	Deferred         bool                `json:"deferred,omitempty"`
	Attempts         map[job.Step]int    `json:"attempts,omitempty"`
	At               time.Time           `json:"at"`
}

// Build summarises an orchestrator outcome.
func Build(out orchestrator.Outcome, dbName string, at time.Time) Report {
	j := out.Job
	r := Report{
		JobID:            j.JobID,
		OriginSnapshotID: j.OriginSnapshotID,
		DBName:           dbName,
		State:            out.Final,
		LastState:        out.LastState,
		ErrorKind:        string(out.ErrorKind),
		Resources:        j.Resources(),
		ExportPath:       out.ExportPath,
		Unresolved:       out.Cleanup.Unresolved,
		Deferred:         out.Deferred,
		Attempts:         j.Attempts,
		At:               at.UTC(),
	}
	if out.Cause != nil {
		r.Error = out.Cause.Error()
	}
	return r
}

// Succeeded reports whether the export landed.
func (r Report) Succeeded() bool {
	return r.State == job.StateCrawlReady
}

// EventType names the terminal event published for r.
func (r Report) EventType() string {
	switch r.State {
	case job.StateCrawlReady:
		return EventCrawlReady
	case job.StateAbandoned:
		return EventAbandoned
	default:
		return EventFailed
	}
}

// Reporter consumes terminal reports.
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Multi fans a report out to every reporter, returning their joined errors.
type Multi []Reporter

// Report calls every reporter even when an earlier one fails.
func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, rep := range m {
		if rep == nil {
			continue
		}
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
