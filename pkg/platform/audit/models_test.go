package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestActionCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, ActionEnrichmentCompleted.Category())
	assert.Equal(t, CategorySecurity, ActionCacheIntegrityFailed.Category())
	assert.Equal(t, CategoryOperations, ActionLeadDuplicate.Category())
	assert.Equal(t, CategoryOperations, Action("something_new").Category())
}

func TestEventNormalized(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fills missing fields", func(t *testing.T) {
		e := Event{Action: ActionWebhookDenied}.Normalized(now)
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.Equal(t, CategorySecurity, e.Category)
		assert.Equal(t, now, e.Timestamp)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		id := uuid.New()
		at := now.Add(-time.Hour)
		e := Event{ID: id, Action: ActionLeadReceived, Category: CategoryCompliance, Timestamp: at}.Normalized(now)
		assert.Equal(t, id, e.ID)
		assert.Equal(t, CategoryCompliance, e.Category)
		assert.Equal(t, at, e.Timestamp)
	})
}
