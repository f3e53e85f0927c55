package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalFragment(t *testing.T) {
	fragment, err := UnmarshalFragment([]byte(`{"type":"text_delta","text":"hello"}`))
	require.NoError(t, err)
	delta, ok := fragment.(TextDeltaFragment)
	require.True(t, ok)
	assert.Equal(t, "hello", delta.Text)

	fragment, err = UnmarshalFragment([]byte(`{"type":"tool_call","callId":"c1","name":"search","input":{"q":"x"}}`))
	require.NoError(t, err)
	call, ok := fragment.(ToolCallFragment)
	require.True(t, ok)
	assert.Equal(t, "search", call.Name)

	fragment, err = UnmarshalFragment([]byte(`{"type":"error","message":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, ErrorFragmentType, fragment.GetFragmentType())

	fragment, err = UnmarshalFragment([]byte(`{"type":"end"}`))
	require.NoError(t, err)
	assert.Equal(t, EndFragmentType, fragment.GetFragmentType())
}

func TestUnmarshalFragmentUnknownType(t *testing.T) {
	_, err := UnmarshalFragment([]byte(`{"type":"telepathy"}`))
	assert.Error(t, err)
}
