package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDMonotonic(t *testing.T) {
	prev := NewID()
	for i := 0; i < 1000; i++ {
		next := NewID()
		assert.LessOrEqual(t, prev.Compare(next), 0, "IDs must be non-decreasing")
		prev = next
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	id := NewMessageID()
	parsed, err := ParseMessageID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseMessageID("not-a-uuid")
	assert.Error(t, err)
}

func TestIDJSONIsCanonicalString(t *testing.T) {
	id := NewEventID()
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var back EventID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)
}

func TestIDIsZero(t *testing.T) {
	var id MessageID
	assert.True(t, id.IsZero())
	assert.False(t, NewMessageID().IsZero())
}

func TestStreamKey(t *testing.T) {
	assert.True(t, StreamKey("").IsZero())
	assert.Equal(t, "order-42", StreamKey("order-42").String())
}
