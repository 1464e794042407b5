package webhook

import (
	"context"

	"github.com/mattjoyce/snapshot-exporter/internal/config"
	"github.com/mattjoyce/snapshot-exporter/internal/dispatch"
	"github.com/mattjoyce/snapshot-exporter/internal/notification"
)

// Submitter admits a notification and starts its export.
type Submitter interface {
	Submit(ctx context.Context, n notification.LifecycleNotification) (dispatch.Ticket, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen          string
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

// FromConfig converts the webhook section of the service configuration.
func FromConfig(wc config.WebhookConfig) Config {
	return Config{
		Listen:          wc.Listen,
		Path:            wc.Path,
		Secret:          wc.Secret,
		SignatureHeader: wc.SignatureHeader,
		MaxBodySize:     wc.MaxBodySize,
	}
}

// SubmitResponse is the JSON response for an accepted notification.
type SubmitResponse struct {
	JobID  string            `json:"job_id,omitempty"`
	Status dispatch.Decision `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultPath            = "/sns"
	DefaultSignatureHeader = "X-Snapexp-Signature"
	DefaultMaxBodySize     = 256 * 1024
)
