package notification

import (
	"strings"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// DefaultCategories are accepted when FilterConfig.Categories is empty.
var DefaultCategories = []string{CategoryCreation, CategoryCompletion}

// FilterConfig configures Filter.
type FilterConfig struct {
	DBName        string
	WorkingPrefix string
	Categories    []string
}

// Filter decides whether a notification should start a workflow. It is pure.
type Filter struct {
	dbName     string
	naming     job.Naming
	categories map[string]struct{}
}

// NewFilter builds a Filter. Categories outside creation/completion are ignored.
func NewFilter(cfg FilterConfig) *Filter {
	cats := cfg.Categories
	if len(cats) == 0 {
		cats = DefaultCategories
	}
	set := make(map[string]struct{}, len(cats))
	for _, c := range cats {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == CategoryCreation || c == CategoryCompletion {
			set[c] = struct{}{}
		}
	}
	return &Filter{
		dbName:     cfg.DBName,
		naming:     job.Naming{WorkingPrefix: cfg.WorkingPrefix, DBName: cfg.DBName},
		categories: set,
	}
}

// Accept reports whether n should start a workflow.
func (f *Filter) Accept(n LifecycleNotification) bool {
	ok, _ := f.Evaluate(n)
	return ok
}

// Evaluate is Accept plus a short reason for rejections.
func (f *Filter) Evaluate(n LifecycleNotification) (bool, string) {
	switch ParseSourceType(string(n.SourceType)) {
	case SourceSnapshot, SourceClusterSnapshot:
	default:
		return false, "source type " + string(n.SourceType) + " is informational"
	}

	if _, ok := f.categories[strings.ToLower(n.EventCategory)]; !ok {
		return false, "event category " + n.EventCategory + " does not start an export"
	}

	id := job.TrimAutomatedPrefix(n.SourceID)
	if id == "" {
		return false, "missing snapshot identifier"
	}
	if f.naming.IsWorking(id) {
		return false, "snapshot " + n.SourceID + " is a working snapshot"
	}
	if !f.ownsSnapshot(id) {
		return false, "snapshot " + n.SourceID + " does not belong to " + f.dbName
	}
	return true, ""
}

// ownsSnapshot requires the db name to be followed by a hyphen or the end of
// the id, so mydb does not claim mydb2 or mydbstaging.
func (f *Filter) ownsSnapshot(id string) bool {
	if f.dbName == "" {
		return false
	}
	return id == f.dbName || strings.HasPrefix(id, f.dbName+"-")
}
