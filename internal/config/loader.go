package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/snapshot-exporter/internal/job"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "snapshot-exporter",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Filter: FilterConfig{
			Categories:    []string{"creation", "completion"},
			WorkingPrefix: job.DefaultWorkingPrefix,
		},
		Restore: RestoreConfig{
			EngineMode: "provisioned",
		},
		Workflow: WorkflowConfig{
			AttemptBudget:   3,
			RetryBase:       2 * time.Second,
			PollBase:        15 * time.Second,
			PollMultiplier:  1.5,
			PollMaxInterval: 2 * time.Minute,
			Jitter:          0.2,
			RestoreWait:     90 * time.Minute,
			SnapshotWait:    60 * time.Minute,
			ExportWait:      6 * time.Hour,
			CleanupReserve:  2 * time.Minute,
			MinStepBudget:   30 * time.Second,
			CallTimeout:     30 * time.Second,
			StaleAfter:      12 * time.Hour,
		},
		Cleanup: CleanupConfig{
			Attempts:  3,
			RetryBase: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			URL: "sqlite:///tmp/snapshot-exporter/ledger.db",
		},
		Events: EventsConfig{
			Sink:  "none",
			Topic: "snapshot-exporter.events",
		},
		Crawler: CrawlerConfig{
			Enabled: true,
		},
		Webhook: WebhookConfig{
			Listen:          "127.0.0.1:8080",
			Path:            "/sns",
			SignatureHeader: "X-Snapexp-Signature",
			MaxBodySize:     256 * 1024,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. ${VAR} references are replaced from the environment first.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()
	if configPath == "" {
		return cfg, nil
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	if m := envVarPattern.FindString(interpolated); m != "" {
		return nil, fmt.Errorf("%s: unresolved environment variable %s", absPath, m)
	}
	return cfg, nil
}

// Resolve loads configPath, overlays the environment, fills derived values
// and validates the result.
func Resolve(configPath string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	Finalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. The deployment names
// (DB_NAME, SNAPSHOT_BUCKET_NAME, ...) are honoured alongside SNAPEXP_*.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"DB_NAME", &cfg.Target.DBName},
		{"SNAPSHOT_BUCKET_NAME", &cfg.Target.Bucket},
		{"SNAPSHOT_TASK_ROLE", &cfg.Target.IAMRoleARN},
		{"SNAPSHOT_TASK_KEY", &cfg.Target.KMSKeyID},
		{"AWS_REGION", &cfg.Target.Region},
		{"LOG_LEVEL", &cfg.Service.LogLevel},
		{"SNAPEXP_LOG_FORMAT", &cfg.Service.LogFormat},
		{"SNAPEXP_WORKING_PREFIX", &cfg.Filter.WorkingPrefix},
		{"SNAPEXP_RESTORE_ENGINE", &cfg.Restore.Engine},
		{"SNAPEXP_RESTORE_ENGINE_VERSION", &cfg.Restore.EngineVersion},
		{"SNAPEXP_RESTORE_SUBNET_GROUP", &cfg.Restore.SubnetGroup},
		{"SNAPEXP_LEDGER_URL", &cfg.Ledger.URL},
		{"SNAPEXP_EVENTS_SINK", &cfg.Events.Sink},
		{"SNAPEXP_EVENTS_TOPIC", &cfg.Events.Topic},
		{"SNAPEXP_CRAWLER_NAME", &cfg.Crawler.Name},
		{"SNAPEXP_WEBHOOK_LISTEN", &cfg.Webhook.Listen},
		{"SNAPEXP_WEBHOOK_SECRET", &cfg.Webhook.Secret},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	lists := []struct {
		key string
		dst *[]string
	}{
		{"SNAPEXP_RESTORE_SECURITY_GROUPS", &cfg.Restore.SecurityGroupIDs},
		{"SNAPEXP_KAFKA_BROKERS", &cfg.Events.Brokers},
	}
	for _, l := range lists {
		if v, ok := lookup(l.key); ok && v != "" {
			*l.dst = splitList(v)
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SNAPEXP_INVOCATION_BUDGET", &cfg.Workflow.InvocationBudget},
		{"SNAPEXP_CLEANUP_RESERVE", &cfg.Workflow.CleanupReserve},
		{"SNAPEXP_STALE_AFTER", &cfg.Workflow.StaleAfter},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"SNAPEXP_CRAWLER_ENABLED", &cfg.Crawler.Enabled},
		{"SNAPEXP_TRACING_ENABLED", &cfg.Tracing.Enabled},
	}
	for _, b := range bools {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.dst = parsed
	}

	if v, ok := lookup("SNAPEXP_ATTEMPT_BUDGET"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SNAPEXP_ATTEMPT_BUDGET: %w", err)
		}
		cfg.Workflow.AttemptBudget = n
	}
	return nil
}

// Finalize normalises case-insensitive values and derives names left empty.
func Finalize(cfg *Config) {
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	cfg.Service.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Service.LogFormat))
	cfg.Events.Sink = strings.ToLower(strings.TrimSpace(cfg.Events.Sink))
	for i, c := range cfg.Filter.Categories {
		cfg.Filter.Categories[i] = strings.ToLower(strings.TrimSpace(c))
	}
	if cfg.Crawler.Name == "" && cfg.Target.DBName != "" {
		cfg.Crawler.Name = cfg.Naming().CrawlerName()
	}
}

// Naming returns the resource naming scheme for the configured database.
func (c *Config) Naming() job.Naming {
	return job.Naming{WorkingPrefix: c.Filter.WorkingPrefix, DBName: c.Target.DBName}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unknown variables are left in place and rejected by Load.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
