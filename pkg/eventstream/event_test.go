package eventstream_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
)

func TestConflictRaisedEvent_JSON(t *testing.T) {
	now := time.Unix(1735689600, 0)
	event := eventstream.NewConflictRaisedEvent("owner-1", "tok", now)

	assert.True(t, strings.HasPrefix(event.EventID, "evt_"))
	assert.Equal(t, eventstream.EventTypeConflictRaised, event.EventType)

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	for _, key := range []string{"schema_version", "event_type", "event_id", "emitted_at", "owner_id", "token", "existing", "proposed", "choices", "callback_url"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "2025-01-01T00:00:00Z", decoded["emitted_at"])
}

func TestConflictResolvedEvent_OmitsEmptyResult(t *testing.T) {
	payload, err := json.Marshal(eventstream.NewConflictResolvedEvent("o", "t", "keep_old", time.Now()))
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "result_fact_id")
	assert.Contains(t, string(payload), `"event_type":"fusion.conflict.resolved"`)
}
