package domain

import (
	"strings"
	"time"
)

// EventType enumerates the closed taxonomy of behavioral events.
type EventType string

const (
	EventProfileView           EventType = "profile_view"
	EventCTAImpression         EventType = "cta_impression"
	EventListenClick           EventType = "listen_click"
	EventSubscribeSubmit       EventType = "subscribe_submit"
	EventPlatformPreferenceSet EventType = "platform_preference_set"
	EventUnsubscribe           EventType = "unsubscribe"
)

// Attribute keys used by the taxonomy.
const (
	AttrPlatform      = "platform"
	AttrContact       = "contact"
	AttrRecipientID   = "recipient_id"
	AttrExperimentKey = "experiment_key"
	AttrVariantID     = "variant_id"
)

// requiredAttributes lists, per event type, the attributes that must be present.
var requiredAttributes = map[EventType][]string{
	EventProfileView:           nil,
	EventCTAImpression:         {AttrExperimentKey, AttrVariantID},
	EventListenClick:           {AttrPlatform},
	EventSubscribeSubmit:       {AttrContact},
	EventPlatformPreferenceSet: {AttrPlatform},
	EventUnsubscribe:           {AttrRecipientID},
}

// EventTypes returns every type in the taxonomy.
func EventTypes() []EventType {
	return []EventType{
		EventProfileView, EventCTAImpression, EventListenClick,
		EventSubscribeSubmit, EventPlatformPreferenceSet, EventUnsubscribe,
	}
}

// Valid reports whether t belongs to the closed taxonomy.
func (t EventType) Valid() bool {
	_, ok := requiredAttributes[t]
	return ok
}

// Event is a single immutable entry of the event log.
type Event struct {
	ID           string            `json:"event_id" db:"event_id"`
	Seq          int64             `json:"-" db:"seq"`
	Type         EventType         `json:"type" db:"event_type"`
	SubjectID    string            `json:"subject_id" db:"subject_id"`
	AnonymousID  string            `json:"anonymous_id" db:"anonymous_id"`
	IdentifiedID string            `json:"identified_id,omitempty" db:"identified_id"`
	Timestamp    time.Time         `json:"timestamp" db:"occurred_at"`
	Attributes   map[string]string `json:"attributes,omitempty" db:"attributes"`

	// RecordedAt is when the log accepted the event. Redeliveries counts
	// re-notifications by the recovery sweep.
	RecordedAt   time.Time `json:"-" db:"created_at"`
	Redeliveries int       `json:"-" db:"redeliveries"`
}

// Attr returns the trimmed attribute value for key.
func (e Event) Attr(key string) string {
	return strings.TrimSpace(e.Attributes[key])
}

// Validate checks the event against the taxonomy. It returns a
// *ValidationError naming the first invalid field.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown event type " + string(e.Type)}
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if strings.TrimSpace(e.AnonymousID) == "" {
		return &ValidationError{Field: "anonymous_id", Reason: "is required"}
	}
	for _, key := range requiredAttributes[e.Type] {
		if e.Attr(key) == "" {
			return &ValidationError{Field: "attributes." + key, Reason: "is required for " + string(e.Type)}
		}
	}
	if e.Type == EventListenClick || e.Type == EventPlatformPreferenceSet {
		if !Platform(e.Attr(AttrPlatform)).Valid() {
			return &ValidationError{Field: "attributes." + AttrPlatform, Reason: "unknown platform " + e.Attr(AttrPlatform)}
		}
	}
	return nil
}

// EventFilter narrows an event log query. Zero values mean "any".
type EventFilter struct {
	SubjectID   string
	AnonymousID string
	Type        EventType
	From        time.Time
	To          time.Time
	Limit       int
}

// BucketSize is the granularity of aggregated event counts.
type BucketSize string

const (
	BucketMinute BucketSize = "minute"
	BucketHour   BucketSize = "hour"
	BucketDay    BucketSize = "day"
)

// Valid reports whether b is a supported bucket size.
func (b BucketSize) Valid() bool {
	return b == BucketMinute || b == BucketHour || b == BucketDay
}

// Truncate rounds t down to the start of its bucket (UTC).
func (b BucketSize) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch b {
	case BucketMinute:
		return t.Truncate(time.Minute)
	case BucketDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

// CountFilter selects the window for aggregated counts.
type CountFilter struct {
	SubjectID string
	From      time.Time
	To        time.Time
	Bucket    BucketSize
}

// BucketCount is one row of the metrics/evaluation export.
type BucketCount struct {
	SubjectID   string    `json:"subject_id"`
	Type        EventType `json:"type"`
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
}

// CountSnapshot is one export of bucketed counts over a window.
type CountSnapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Bucket      BucketSize    `json:"bucket"`
	Counts      []BucketCount `json:"counts"`
}
