package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
)

func TestRecordKeysByLead(t *testing.T) {
	event := audit.Event{Action: audit.ActionLeadReceived, LeadID: "L42"}.Normalized(time.Now())
	rec, err := Record(event)
	require.NoError(t, err)
	assert.Equal(t, "L42", string(rec.Key))
	require.Len(t, rec.Headers, 2)
	assert.Equal(t, "operations", string(rec.Headers[0].Value))
	assert.Equal(t, "lead_received", string(rec.Headers[1].Value))
}

func TestRecordFallsBackToEventID(t *testing.T) {
	event := audit.Event{Action: audit.ActionWebhookDenied}.Normalized(time.Now())
	rec, err := Record(event)
	require.NoError(t, err)
	assert.Equal(t, event.ID.String(), string(rec.Key))
}
