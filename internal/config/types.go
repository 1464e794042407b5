package config

import "time"

// Config represents the complete snapshot-exporter configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Target   TargetConfig   `yaml:"target"`
	Filter   FilterConfig   `yaml:"filter"`
	Restore  RestoreConfig  `yaml:"restore"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Events   EventsConfig   `yaml:"events"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error critical"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
}

// TargetConfig names the database whose snapshots are exported and where
// the exports land.
type TargetConfig struct {
	DBName     string `yaml:"db_name" validate:"required"`
	Bucket     string `yaml:"bucket" validate:"required"`
	IAMRoleARN string `yaml:"iam_role_arn" validate:"required"`
	KMSKeyID   string `yaml:"kms_key_id" validate:"required"`
	Region     string `yaml:"region"`
}

// FilterConfig tunes which notifications start an export.
type FilterConfig struct {
	Categories    []string `yaml:"categories" validate:"dive,oneof=creation completion"`
	WorkingPrefix string   `yaml:"working_prefix" validate:"required,max=24,rds_identifier"`
}

// RestoreConfig shapes the transient cluster.
type RestoreConfig struct {
	Engine           string   `yaml:"engine" validate:"required"`
	EngineVersion    string   `yaml:"engine_version"`
	EngineMode       string   `yaml:"engine_mode" validate:"omitempty,oneof=provisioned serverless"`
	SubnetGroup      string   `yaml:"subnet_group"`
	SecurityGroupIDs []string `yaml:"security_group_ids"`
	KMSKeyID         string   `yaml:"kms_key_id"`
}

// WorkflowConfig bounds retries, polling and the invocation budget.
type WorkflowConfig struct {
	AttemptBudget   int           `yaml:"attempt_budget" validate:"min=1"`
	RetryBase       time.Duration `yaml:"retry_base" validate:"gt=0"`
	PollBase        time.Duration `yaml:"poll_base" validate:"gt=0"`
	PollMultiplier  float64       `yaml:"poll_multiplier" validate:"gte=1"`
	PollMaxInterval time.Duration `yaml:"poll_max_interval" validate:"gte=0"`
	Jitter          float64       `yaml:"jitter" validate:"gte=0,lte=1"`
	RestoreWait     time.Duration `yaml:"restore_wait" validate:"gt=0"`
	SnapshotWait    time.Duration `yaml:"snapshot_wait" validate:"gt=0"`
	ExportWait      time.Duration `yaml:"export_wait" validate:"gt=0"`
	// InvocationBudget caps one invocation; zero leaves only the caller's deadline.
	InvocationBudget time.Duration `yaml:"invocation_budget" validate:"gte=0"`
	CleanupReserve   time.Duration `yaml:"cleanup_reserve" validate:"gt=0"`
	MinStepBudget    time.Duration `yaml:"min_step_budget" validate:"gte=0"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gt=0"`
	StaleAfter       time.Duration `yaml:"stale_after" validate:"gt=0"`
}

// CleanupConfig bounds deletion retries per working resource.
type CleanupConfig struct {
	Attempts  int           `yaml:"attempts" validate:"min=1"`
	RetryBase time.Duration `yaml:"retry_base" validate:"gt=0"`
}

// LedgerConfig selects the durable job store.
type LedgerConfig struct {
	// URL is sqlite://<path>, a bare path, postgres://... or redis://...
	URL         string `yaml:"url" validate:"required"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// EventsConfig selects where terminal events are published.
type EventsConfig struct {
	Sink    string   `yaml:"sink" validate:"oneof=none gochannel kafka"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" validate:"required"`
}

// CrawlerConfig controls the schema discovery trigger.
type CrawlerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// TracingConfig toggles OTLP trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebhookConfig defines the HTTP relay intake used by the serve command.
type WebhookConfig struct {
	Listen          string `yaml:"listen" validate:"required"`
	Path            string `yaml:"path" validate:"required,startswith=/"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header" validate:"required"`
	MaxBodySize     int64  `yaml:"max_body_size" validate:"gt=0"`
}
