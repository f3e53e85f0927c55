package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalMessage(t *testing.T) {
	message, err := UnmarshalMessage([]byte(`{"type":"submit","journal_id":"jrnl_1","content":"hi"}`))
	require.NoError(t, err)
	submit, ok := message.(SubmitMessage)
	require.True(t, ok)
	assert.Equal(t, "jrnl_1", submit.JournalId)
	assert.Equal(t, "hi", submit.Content)

	message, err = UnmarshalMessage([]byte(`{"type":"delegate","journal_id":"jrnl_1","description":"d","assignee_id":"p2","priority":"high","requires_approval":true}`))
	require.NoError(t, err)
	delegate, ok := message.(DelegateMessage)
	require.True(t, ok)
	assert.Equal(t, "high", delegate.Priority)
	assert.True(t, delegate.RequiresApproval)

	message, err = UnmarshalMessage([]byte(`{"type":"register_participant","journal_id":"jrnl_1","name":"Alice","capabilities":["read","delegate"]}`))
	require.NoError(t, err)
	register, ok := message.(RegisterParticipantMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"read", "delegate"}, register.Capabilities)
}

func TestUnmarshalMessageUnknownType(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{"type":"warp_drive"}`))
	assert.Error(t, err)
}

func TestUnmarshalMessageInvalidJSON(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{not json`))
	assert.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	original := CancelMessage{MessageType: CancelMessageType, BlockId: "blk_1"}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
