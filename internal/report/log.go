package report

import (
	"context"
	"log/slog"
)

// LogReporter writes every report to the structured log. Failed and
// abandoned jobs are logged at error level with alert=true so log-based
// alarms can pick them up.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter that writes to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "report")}
}

// Report logs r, at error level with alert=true when the job did not succeed.
func (l *LogReporter) Report(ctx context.Context, r Report) error {
	attrs := []any{
		"job_id", r.JobID,
		"origin_snapshot_id", r.OriginSnapshotID,
		"db_name", r.DBName,
		"state", r.State,
		"resources", r.Resources,
	}
	if len(r.Unresolved) > 0 {
		ids := make([]string, 0, len(r.Unresolved))
		for _, m := range r.Unresolved {
			ids = append(ids, m.ResourceID)
		}
		attrs = append(attrs, "unresolved_cleanup", ids)
	}

	if r.Succeeded() {
		l.logger.InfoContext(ctx, "snapshot export complete", append(attrs, "export_path", r.ExportPath)...)
		return nil
	}

	attrs = append(attrs,
		"alert", true,
		"last_state", r.LastState,
		"error_kind", r.ErrorKind,
		"error", r.Error,
	)
	if r.Deferred {
		attrs = append(attrs, "deferred", "retry on next notification")
	}
	l.logger.ErrorContext(ctx, "snapshot export did not complete", attrs...)
	return nil
}
