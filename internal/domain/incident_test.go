package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrdering(t *testing.T) {
	ordered := []IncidentStatus{
		StatusOpen, StatusInvestigating, StatusMitigating,
		StatusMitigated, StatusPostMortemReview, StatusClosed,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Ordinal(), ordered[i-1].Ordinal(),
			"%s should order after %s", ordered[i], ordered[i-1])
	}

	assert.True(t, StatusMitigated.AtLeast(StatusMitigated))
	assert.True(t, StatusPostMortemReview.AtLeast(StatusMitigated))
	assert.False(t, StatusMitigating.AtLeast(StatusMitigated))

	assert.False(t, IncidentStatus("RESOLVED").Valid())
	assert.Equal(t, 0, IncidentStatus("RESOLVED").Ordinal())
}

func TestPriorityWeights(t *testing.T) {
	assert.Equal(t, 1, PriorityCritical.Weight())
	assert.Equal(t, 5, PriorityMinimal.Weight())
	assert.Equal(t, 0, IncidentPriority("URGENT").Weight())
	assert.False(t, IncidentPriority("URGENT").Valid())

	for _, p := range []IncidentPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityMinimal} {
		resolved, ok := PriorityForWeight(p.Weight())
		require.True(t, ok)
		assert.Equal(t, p, resolved)
	}
	_, ok := PriorityForWeight(6)
	assert.False(t, ok)
}

func TestRequiresPostMortem(t *testing.T) {
	assert.True(t, PriorityCritical.RequiresPostMortem())
	assert.True(t, PriorityHigh.RequiresPostMortem())
	assert.False(t, PriorityMedium.RequiresPostMortem())
	assert.False(t, PriorityMinimal.RequiresPostMortem())
	assert.False(t, IncidentPriority("URGENT").RequiresPostMortem(), "unknown priority never requires post-mortem")
}

func TestLatestByEventType(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	detected := EventTypeDetected
	recovered := EventTypeRecovered

	milestones := []Milestone{
		{EventType: &detected, Message: "first", CreatedAt: base},
		{Message: "no event type", CreatedAt: base.Add(time.Minute)},
		{EventType: &detected, Message: "second", CreatedAt: base.Add(2 * time.Minute)},
		{EventType: &recovered, Message: "done", CreatedAt: base.Add(3 * time.Minute)},
	}

	latest := LatestByEventType(milestones)
	require.Len(t, latest, 2)
	assert.Equal(t, "second", latest[detected].Message)
	assert.Equal(t, "done", latest[recovered].Message)
}
