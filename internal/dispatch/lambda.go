package dispatch

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/mattjoyce/snapshot-exporter/internal/protocol"
)

// SNSEventSource is the record source the handler accepts.
const SNSEventSource = "aws:sns"

// HandleSNS processes an SNS-triggered invocation. Records from other
// sources and undecodable messages are logged and skipped; only
// infrastructure faults are returned so the platform retries the delivery.
func (d *Dispatcher) HandleSNS(ctx context.Context, ev events.SNSEvent) error {
	logger := d.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("invocation_id", lc.AwsRequestID)
	}

	var errs []error
	for i, rec := range ev.Records {
		if rec.EventSource != SNSEventSource {
			logger.Warn("skipping record from unexpected source", "index", i, "event_source", rec.EventSource)
			continue
		}
		n, err := protocol.ParseNotification(rec.SNS.Message, rec.SNS.MessageID, rec.SNS.Timestamp)
		if err != nil {
			logger.Warn("skipping undecodable message", "index", i, "message_id", rec.SNS.MessageID, "error", err)
			continue
		}
		if _, err := d.Dispatch(ctx, n); err != nil {
			logger.Error("dispatch failed", "index", i, "message_id", rec.SNS.MessageID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
