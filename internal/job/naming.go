package job

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// DefaultWorkingPrefix starts every transient resource identifier.
	DefaultWorkingPrefix = "snapexp"

	TagJobID  = "snapshot-exporter:job-id"
	TagOrigin = "snapshot-exporter:origin"

	automatedPrefix = "rds:"
	idLength        = 16
)

// DeriveID hashes sourceID and timestamp into a stable job id. The same
// notification always maps to the same id.
func DeriveID(sourceID string, ts time.Time) string {
	h := blake3.New()
	_, _ = h.Write([]byte(sourceID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

// Naming derives working resource identifiers and destination paths.
type Naming struct {
	WorkingPrefix string
	DBName        string
}

func (n Naming) prefix() string {
	if n.WorkingPrefix == "" {
		return DefaultWorkingPrefix
	}
	return n.WorkingPrefix
}

// ClusterID is the working cluster for jobID.
func (n Naming) ClusterID(jobID string) string {
	return n.prefix() + "-" + jobID
}

// SnapshotID is the working snapshot for jobID.
func (n Naming) SnapshotID(jobID string) string {
	return n.prefix() + "-" + jobID + "-snap"
}

// ExportTaskID is the export task for jobID.
func (n Naming) ExportTaskID(jobID string) string {
	return n.prefix() + "-" + jobID
}

// ExportPrefix is the object key prefix for an origin snapshot.
func (n Naming) ExportPrefix(originSnapshotID string) string {
	return n.DBName + "/" + TrimAutomatedPrefix(originSnapshotID)
}

// ExportPath is the full object storage location of an export task's output.
func (n Naming) ExportPath(bucket, originSnapshotID, exportTaskID string) string {
	return "s3://" + bucket + "/" + n.ExportPrefix(originSnapshotID) + "/" + exportTaskID + "/"
}

// CrawlerName is the schema discovery crawler registered for the database.
func (n Naming) CrawlerName() string {
	return n.DBName + "-rds-snapshot-crawler"
}

// IsWorking reports whether id names one of this exporter's own resources.
func (n Naming) IsWorking(id string) bool {
	return strings.HasPrefix(TrimAutomatedPrefix(id), n.prefix()+"-")
}

// TrimAutomatedPrefix strips the "rds:" marker of automated snapshots.
func TrimAutomatedPrefix(id string) string {
	return strings.TrimPrefix(id, automatedPrefix)
}

var catalogUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// CatalogName sanitizes a database name for the schema catalog.
func CatalogName(dbName string) string {
	return catalogUnsafe.ReplaceAllString(dbName, "_")
}
