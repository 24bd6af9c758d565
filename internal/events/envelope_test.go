package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	id := uuid.New()
	raw, err := Encode(MarkRead, MarkReadPayload{ConversationID: id})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "mark-read", env.Event)

	var p MarkReadPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, id, p.ConversationID)
}

func TestEncodeWithoutPayload(t *testing.T) {
	raw, err := Encode(Online, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"online"}`, string(raw))
}
