package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalMessageKeepsPayloadVerbatim(t *testing.T) {
	raw := `{"type":"offer","to":"b","offer":{"type":"offer","sdp":"v=0\r\n","extra":[1,2]}}`

	var msg SignalMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, SignalTypeOffer, msg.Type)
	assert.Equal(t, "b", msg.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0\r\n","extra":[1,2]}`, string(msg.Offer))

	msg.To = ""
	msg.From = "a"
	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","from":"a","offer":{"type":"offer","sdp":"v=0\r\n","extra":[1,2]}}`, string(out))
}

func TestSignalTypeDirected(t *testing.T) {
	assert.True(t, SignalTypeOffer.Directed())
	assert.True(t, SignalTypeAnswer.Directed())
	assert.True(t, SignalTypeCandidate.Directed())
	assert.False(t, SignalTypeChat.Directed())
	assert.False(t, SignalTypeJoinRoom.Directed())
	assert.False(t, SignalTypeUserLeft.Directed())
}
