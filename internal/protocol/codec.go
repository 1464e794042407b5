// Package protocol decodes SNS deliveries and the RDS event messages they carry.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattjoyce/snapshot-exporter/internal/notification"
)

// rdsTimeLayouts covers the formats RDS has used for "Event Time".
var rdsTimeLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// DecodeEnvelope reads an SNS HTTP delivery. Unknown fields are tolerated
// because SNS adds attributes over time.
func DecodeEnvelope(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing required field: Type")
	}
	switch env.Type {
	case TypeNotification:
		if env.Message == "" {
			return nil, fmt.Errorf("notification envelope has no Message")
		}
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		if env.SubscribeURL == "" && env.Token == "" {
			return nil, fmt.Errorf("%s envelope has neither SubscribeURL nor Token", env.Type)
		}
	default:
		return nil, fmt.Errorf("invalid envelope type: %q", env.Type)
	}
	return &env, nil
}

// DecodeRDSEvent parses the RDS event message carried in an SNS Message field.
func DecodeRDSEvent(message string) (*RDSEvent, error) {
	var ev RDSEvent
	dec := json.NewDecoder(strings.NewReader(message))
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to decode rds event: %w", err)
	}
	if ev.sourceID() == "" {
		return nil, fmt.Errorf("rds event missing required field: Source ID")
	}
	if ev.eventID() == "" && ev.EventCategory == "" {
		return nil, fmt.Errorf("rds event has neither Event ID nor Event Category")
	}
	return &ev, nil
}

// NormalizeEventID reduces "https://docs.../User_Events.html#RDS-EVENT-0091"
// to "RDS-EVENT-0091".
func NormalizeEventID(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		id = id[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(id))
}

// CategoryFor returns the event category for a known event id, or
// "notification" for anything unrecognised.
func CategoryFor(eventID string) string {
	if c, ok := eventCategories[NormalizeEventID(eventID)]; ok {
		return c
	}
	return notification.CategoryNotification
}

// Notification converts a decoded event into the domain type. messageID and
// fallback come from the SNS record carrying the event.
func (e RDSEvent) Notification(messageID string, fallback time.Time, raw string) notification.LifecycleNotification {
	eventID := NormalizeEventID(e.eventID())
	category := strings.ToLower(e.EventCategory)
	if category == "" {
		category = CategoryFor(eventID)
	}

	ts := fallback
	if s := e.eventTime(); s != "" {
		for _, layout := range rdsTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				ts = t
				break
			}
		}
	}

	return notification.LifecycleNotification{
		SourceType:    notification.ParseSourceType(e.source()),
		EventCategory: category,
		EventID:       eventID,
		SourceID:      e.sourceID(),
		SourceARN:     e.arn(),
		Message:       e.message(),
		MessageID:     messageID,
		Timestamp:     ts.UTC(),
		Raw:           []byte(raw),
	}
}

// ParseNotification decodes an SNS message body straight into a notification.
func ParseNotification(message, messageID string, fallback time.Time) (notification.LifecycleNotification, error) {
	ev, err := DecodeRDSEvent(message)
	if err != nil {
		return notification.LifecycleNotification{}, err
	}
	return ev.Notification(messageID, fallback, message), nil
}

// FromEnvelope decodes the notification carried by an SNS HTTP envelope.
func FromEnvelope(env *Envelope) (notification.LifecycleNotification, error) {
	if env.Type != TypeNotification {
		return notification.LifecycleNotification{}, fmt.Errorf("envelope type %q carries no notification", env.Type)
	}
	ts, _ := time.Parse(time.RFC3339Nano, env.Timestamp)
	return ParseNotification(env.Message, env.MessageID, ts)
}

// EncodeEnvelope wraps an RDS event message in an SNS notification envelope.
// Used by relays and tests that post to the HTTP intake.
func EncodeEnvelope(messageID string, ev RDSEvent, at time.Time) ([]byte, error) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rds event: %w", err)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(Envelope{
		Type:      TypeNotification,
		MessageID: messageID,
		Message:   string(msg),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}
