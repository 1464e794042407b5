// Package notification models database lifecycle notifications and decides
// which of them start an export.
package notification

import (
	"strings"
	"time"
)

// SourceType identifies the kind of resource a notification is about.
type SourceType string

const (
	SourceInstance        SourceType = "db-instance"
	SourceCluster         SourceType = "db-cluster"
	SourceSnapshot        SourceType = "db-snapshot"
	SourceClusterSnapshot SourceType = "db-cluster-snapshot"
)

// ParseSourceType accepts both the "db-" form and the short form.
func ParseSourceType(s string) SourceType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "instance", "db-instance":
		return SourceInstance
	case "cluster", "db-cluster":
		return SourceCluster
	case "snapshot", "db-snapshot":
		return SourceSnapshot
	case "cluster-snapshot", "db-cluster-snapshot":
		return SourceClusterSnapshot
	default:
		return SourceType(v)
	}
}

// Event categories. Only creation/completion categories may start work.
const (
	CategoryCreation     = "creation"
	CategoryCompletion   = "completion"
	CategoryBackup       = "backup"
	CategoryDeletion     = "deletion"
	CategoryFailure      = "failure"
	CategoryRestoration  = "restoration"
	CategoryNotification = "notification"
)

// LifecycleNotification is one inbound event. Treat it as immutable.
type LifecycleNotification struct {
	SourceType    SourceType
	EventCategory string
	EventID       string
	SourceID      string
	SourceARN     string
	Message       string
	MessageID     string
	Timestamp     time.Time
	Raw           []byte
}

// SnapshotRef returns the identifier used to restore from the snapshot. The
// ARN is preferred because automated identifiers carry an "rds:" prefix.
func (n LifecycleNotification) SnapshotRef() string {
	if n.SourceARN != "" {
		return n.SourceARN
	}
	return n.SourceID
}
