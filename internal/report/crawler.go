package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

// GlueAPI is the part of the Glue client the crawler trigger needs.
type GlueAPI interface {
	StartCrawler(ctx context.Context, in *glue.StartCrawlerInput, optFns ...func(*glue.Options)) (*glue.StartCrawlerOutput, error)
}

// GlueCrawler starts the schema discovery crawler after a successful export.
type GlueCrawler struct {
	api    GlueAPI
	name   string
	logger *slog.Logger
}

// NewGlueCrawler returns a reporter that starts the crawler called name.
func NewGlueCrawler(api GlueAPI, name string, logger *slog.Logger) *GlueCrawler {
	return &GlueCrawler{api: api, name: name, logger: logger.With("component", "crawler")}
}

// Report starts the crawler for exports that reached CRAWL_READY. A crawler
// that is already running counts as started.
func (g *GlueCrawler) Report(ctx context.Context, r Report) error {
	if !r.Succeeded() {
		return nil
	}
	_, err := g.api.StartCrawler(ctx, &glue.StartCrawlerInput{Name: aws.String(g.name)})
	var running *types.CrawlerRunningException
	switch {
	case err == nil:
		g.logger.Info("crawler started", "crawler", g.name, "catalog_database", job.CatalogName(r.DBName), "job_id", r.JobID)
		return nil
	case errors.As(err, &running):
		g.logger.Info("crawler already running", "crawler", g.name, "job_id", r.JobID)
		return nil
	default:
		return fmt.Errorf("start crawler %s: %w", g.name, err)
	}
}
