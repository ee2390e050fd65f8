package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/incident-sync/internal/domain"
)

func TestParseMetricDefinitions(t *testing.T) {
	defs, err := parseMetricDefinitions("time_to_detect=detected:declared, time_to_recover=recovered:detected")
	require.NoError(t, err)
	assert.Equal(t, []domain.MetricDefinition{
		{Name: "time_to_detect", LHSEvent: "detected", RHSEvent: "declared"},
		{Name: "time_to_recover", LHSEvent: "recovered", RHSEvent: "detected"},
	}, defs)

	defs, err = parseMetricDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, defs)

	for _, raw := range []string{"no_operands", "name=onlylhs", "name=:rhs", "name=lhs:"} {
		_, err = parseMetricDefinitions(raw)
		assert.Error(t, err, raw)
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"detected", "recovered"}, splitCSV(" detected , recovered ,"))
	assert.Empty(t, splitCSV("  "))
}

func TestSyncGuardTTL(t *testing.T) {
	cfg := SyncConfig{GuardTTLSeconds: 45}
	assert.Equal(t, 45*time.Second, cfg.GuardTTL())

	cfg = SyncConfig{}
	assert.Equal(t, 30*time.Second, cfg.GuardTTL(), "zero falls back to the default window")
}
