package protocol

// SNS message types delivered to HTTP subscribers.
const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Envelope is the SNS HTTP delivery body.
type Envelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion,omitempty"`
	Signature        string `json:"Signature,omitempty"`
	SigningCertURL   string `json:"SigningCertURL,omitempty"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
	Token            string `json:"Token,omitempty"`
}

// RDSEvent is the JSON body RDS publishes to an event subscription topic.
// Both the spaced keys of classic event notifications and the compact keys
// used by newer payloads are accepted.
type RDSEvent struct {
	EventSource    string `json:"Event Source"`
	EventTime      string `json:"Event Time"`
	IdentifierLink string `json:"Identifier Link"`
	SourceID       string `json:"Source ID"`
	SourceARN      string `json:"Source ARN"`
	EventID        string `json:"Event ID"`
	EventMessage   string `json:"Event Message"`

	CompactSource   string `json:"EventSource,omitempty"`
	CompactTime     string `json:"EventTime,omitempty"`
	CompactSourceID string `json:"SourceId,omitempty"`
	CompactARN      string `json:"SourceArn,omitempty"`
	CompactEventID  string `json:"EventID,omitempty"`
	CompactMessage  string `json:"EventMessage,omitempty"`

	// Relays may state the category explicitly.
	EventCategory string `json:"Event Category,omitempty"`
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (e RDSEvent) source() string   { return first(e.EventSource, e.CompactSource) }
func (e RDSEvent) eventTime() string { return first(e.EventTime, e.CompactTime) }
func (e RDSEvent) sourceID() string { return first(e.SourceID, e.CompactSourceID) }
func (e RDSEvent) arn() string      { return first(e.SourceARN, e.CompactARN) }
func (e RDSEvent) eventID() string  { return first(e.EventID, e.CompactEventID) }
func (e RDSEvent) message() string  { return first(e.EventMessage, e.CompactMessage) }

// Event identifiers the exporter knows how to categorize.
const (
	EventDBSnapshotCreating        = "RDS-EVENT-0090"
	EventDBSnapshotCreated         = "RDS-EVENT-0091"
	EventManualSnapshotCreated     = "RDS-EVENT-0042"
	EventRestoredFromSnapshot      = "RDS-EVENT-0008"
	EventClusterSnapshotStarted    = "RDS-EVENT-0074"
	EventClusterSnapshotCreated    = "RDS-EVENT-0075"
	EventAutoClusterSnapshotStart  = "RDS-EVENT-0168"
	EventAutoClusterSnapshotDone   = "RDS-EVENT-0169"
	EventSnapshotDeleted           = "RDS-EVENT-0041"
	EventClusterSnapshotFailed     = "RDS-EVENT-0076"
	EventExportCompleted           = "RDS-EVENT-0161"
	EventExportFailed              = "RDS-EVENT-0159"
	EventClusterSnapshotRestored   = "RDS-EVENT-0170"
	EventClusterSnapshotDeleted    = "RDS-EVENT-0077"
	EventSnapshotRestoredToCluster = "RDS-EVENT-0040"
)

// eventCategories maps event ids to the category the filter reasons about.
// Only finished snapshot creations count as "creation"; "started" events are
// reported as backup so they do not start work on a snapshot that is not yet
// available.
var eventCategories = map[string]string{
	EventDBSnapshotCreated:         "creation",
	EventManualSnapshotCreated:     "creation",
	EventClusterSnapshotCreated:    "creation",
	EventAutoClusterSnapshotDone:   "creation",
	EventDBSnapshotCreating:        "backup",
	EventClusterSnapshotStarted:    "backup",
	EventAutoClusterSnapshotStart:  "backup",
	EventSnapshotDeleted:           "deletion",
	EventClusterSnapshotDeleted:    "deletion",
	EventClusterSnapshotFailed:     "failure",
	EventExportFailed:              "failure",
	EventExportCompleted:           "notification",
	EventRestoredFromSnapshot:      "restoration",
	EventClusterSnapshotRestored:   "restoration",
	EventSnapshotRestoredToCluster: "restoration",
}
