package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Defaults()
	require.NoError(t, ApplyEnv(cfg, lookupFrom(deploymentEnv())))
	Finalize(cfg)
	require.NoError(t, Validate(cfg))
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults with target",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *Config) { cfg.Service.LogLevel = "verbose" },
			wantErr: "service.log_level must be one of",
		},
		{
			name:    "deletion category",
			mutate:  func(cfg *Config) { cfg.Filter.Categories = []string{"creation", "deletion"} },
			wantErr: "filter.categories[1]",
		},
		{
			name:    "working prefix starting with a digit",
			mutate:  func(cfg *Config) { cfg.Filter.WorkingPrefix = "1exp" },
			wantErr: "filter.working_prefix must start with a letter",
		},
		{
			name:    "working prefix with underscore",
			mutate:  func(cfg *Config) { cfg.Filter.WorkingPrefix = "snap_exp" },
			wantErr: "filter.working_prefix",
		},
		{
			name:    "working prefix with double hyphen",
			mutate:  func(cfg *Config) { cfg.Filter.WorkingPrefix = "snap--exp" },
			wantErr: "filter.working_prefix",
		},
		{
			name:   "hyphenated working prefix",
			mutate: func(cfg *Config) { cfg.Filter.WorkingPrefix = "snap-exp2" },
		},
		{
			name:    "zero attempt budget",
			mutate:  func(cfg *Config) { cfg.Workflow.AttemptBudget = 0 },
			wantErr: "workflow.attempt_budget",
		},
		{
			name:    "zero poll base",
			mutate:  func(cfg *Config) { cfg.Workflow.PollBase = 0 },
			wantErr: "workflow.poll_base",
		},
		{
			name:    "jitter above one",
			mutate:  func(cfg *Config) { cfg.Workflow.Jitter = 1.5 },
			wantErr: "workflow.jitter",
		},
		{
			name: "reserve swallows budget",
			mutate: func(cfg *Config) {
				cfg.Workflow.InvocationBudget = time.Minute
				cfg.Workflow.CleanupReserve = 2 * time.Minute
			},
			wantErr: "cleanup_reserve",
		},
		{
			name:    "max interval below base",
			mutate:  func(cfg *Config) { cfg.Workflow.PollMaxInterval = time.Second },
			wantErr: "poll_max_interval",
		},
		{
			name:    "unknown ledger scheme",
			mutate:  func(cfg *Config) { cfg.Ledger.URL = "mongodb://db" },
			wantErr: "unsupported scheme",
		},
		{
			name:   "bare ledger path",
			mutate: func(cfg *Config) { cfg.Ledger.URL = "/var/lib/snapexp/ledger.db" },
		},
		{
			name:    "kafka without brokers",
			mutate:  func(cfg *Config) { cfg.Events.Sink = "kafka" },
			wantErr: "events.brokers",
		},
		{
			name:    "unknown sink",
			mutate:  func(cfg *Config) { cfg.Events.Sink = "sqs" },
			wantErr: "events.sink",
		},
		{
			name: "crawler enabled without name",
			mutate: func(cfg *Config) {
				cfg.Crawler.Name = ""
			},
			wantErr: "crawler.name",
		},
		{
			name: "crawler disabled without name",
			mutate: func(cfg *Config) {
				cfg.Crawler.Enabled = false
				cfg.Crawler.Name = ""
			},
		},
		{
			name:    "webhook path without slash",
			mutate:  func(cfg *Config) { cfg.Webhook.Path = "sns" },
			wantErr: "webhook.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServe(t *testing.T) {
	cfg := validConfig(t)
	assert.Error(t, ValidateServe(cfg))
	cfg.Webhook.Secret = "s3cret"
	assert.NoError(t, ValidateServe(cfg))
}
