package message

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceIsMonotonic(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		to     Status
		want   Status
		change bool
	}{
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered, true},
		{"sent to read", StatusSent, StatusRead, StatusRead, true},
		{"delivered to read", StatusDelivered, StatusRead, StatusRead, true},
		{"read to delivered", StatusRead, StatusDelivered, StatusRead, false},
		{"read to sent", StatusRead, StatusSent, StatusRead, false},
		{"delivered to delivered", StatusDelivered, StatusDelivered, StatusDelivered, false},
		{"out of range", StatusSent, Status(9), StatusSent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Advance(tt.from, tt.to)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.change, changed)
		})
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusDelivered)
	require.NoError(t, err)
	assert.JSONEq(t, `"delivered"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"read"`), &s))
	assert.Equal(t, StatusRead, s)
	assert.Error(t, json.Unmarshal([]byte(`"lost"`), &s))
}

func TestVisibleTo(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := Message{ID: uuid.New()}

	assert.True(t, m.VisibleTo(a, nil))
	assert.False(t, m.VisibleTo(a, map[uuid.UUID]bool{a: true}))
	assert.True(t, m.VisibleTo(b, map[uuid.UUID]bool{a: true}))

	m.DeletedForEveryone = true
	assert.False(t, m.VisibleTo(b, nil))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "hello", Summary("hello", nil))
	assert.Equal(t, "📷 Photo", Summary("", []Attachment{{MimeType: "image/png"}}))
	assert.Equal(t, "🎥 Video", Summary(" ", []Attachment{{MimeType: "video/mp4"}}))
	assert.Equal(t, "🎵 Audio", Summary("", []Attachment{{MimeType: "audio/ogg"}}))
	assert.Equal(t, "📎 Attachment", Summary("", []Attachment{{MimeType: "application/pdf"}}))
	assert.Equal(t, "", Summary("", nil))
}
