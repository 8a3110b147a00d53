package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	base := Event{SubjectID: "artist-1", AnonymousID: "anon-1", Timestamp: time.Now()}

	tests := []struct {
		name      string
		mutate    func(e *Event)
		wantField string
	}{
		{"profile view needs no attributes", func(e *Event) { e.Type = EventProfileView }, ""},
		{"unknown type", func(e *Event) { e.Type = "page_scroll" }, "type"},
		{"missing subject", func(e *Event) { e.Type = EventProfileView; e.SubjectID = " " }, "subject_id"},
		{"missing anonymous id", func(e *Event) { e.Type = EventProfileView; e.AnonymousID = "" }, "anonymous_id"},
		{"listen click without platform", func(e *Event) { e.Type = EventListenClick }, "attributes.platform"},
		{"listen click with unknown platform", func(e *Event) {
			e.Type = EventListenClick
			e.Attributes = map[string]string{AttrPlatform: "napster"}
		}, "attributes.platform"},
		{"listen click ok", func(e *Event) {
			e.Type = EventListenClick
			e.Attributes = map[string]string{AttrPlatform: "spotify"}
		}, ""},
		{"impression missing variant", func(e *Event) {
			e.Type = EventCTAImpression
			e.Attributes = map[string]string{AttrExperimentKey: "cta_copy"}
		}, "attributes.variant_id"},
		{"subscribe without contact", func(e *Event) { e.Type = EventSubscribeSubmit }, "attributes.contact"},
		{"unsubscribe without recipient", func(e *Event) { e.Type = EventUnsubscribe }, "attributes.recipient_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			e.Attributes = nil
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestBucketTruncate(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 47, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 15, 47, 0, 0, time.UTC), BucketMinute.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC), BucketHour.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), BucketDay.Truncate(ts))
}
