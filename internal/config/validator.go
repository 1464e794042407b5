package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// rdsIdentifier matches what RDS accepts as the leading part of cluster,
// snapshot and export task identifiers.
var rdsIdentifier = regexp.MustCompile(`^[A-Za-z](-?[A-Za-z0-9])*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("rds_identifier", func(fl validator.FieldLevel) bool {
			return rdsIdentifier.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks field constraints and the rules that span sections.
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	w := cfg.Workflow
	if w.InvocationBudget > 0 && w.CleanupReserve >= w.InvocationBudget {
		return fmt.Errorf("workflow.cleanup_reserve (%s) must be below workflow.invocation_budget (%s)",
			w.CleanupReserve, w.InvocationBudget)
	}
	if w.PollMaxInterval > 0 && w.PollMaxInterval < w.PollBase {
		return fmt.Errorf("workflow.poll_max_interval (%s) must not be below workflow.poll_base (%s)",
			w.PollMaxInterval, w.PollBase)
	}
	if err := validateLedgerURL(cfg.Ledger.URL); err != nil {
		return err
	}
	if cfg.Events.Sink == "kafka" && len(cfg.Events.Brokers) == 0 {
		return fmt.Errorf("events.brokers is required when events.sink is kafka")
	}
	if cfg.Crawler.Enabled && cfg.Crawler.Name == "" {
		return fmt.Errorf("crawler.name is required when the crawler is enabled")
	}
	return nil
}

// ValidateServe adds the checks needed only by the HTTP intake.
func ValidateServe(cfg *Config) error {
	if cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required to serve the HTTP intake")
	}
	return nil
}

func validateLedgerURL(url string) error {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		return nil
	}
	switch scheme {
	case "sqlite", "postgres", "postgresql", "redis", "rediss":
		return nil
	default:
		return fmt.Errorf("ledger.url: unsupported scheme %q", scheme)
	}
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "rds_identifier":
		return fmt.Sprintf("%s must start with a letter and use only letters, digits and single hyphens (got %v)", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
