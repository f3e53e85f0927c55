package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidBlockTransition(t *testing.T) {
	cases := []struct {
		from, to BlockStatus
		valid    bool
	}{
		{BlockStatusPending, BlockStatusStreaming, true},
		{BlockStatusPending, BlockStatusError, true},
		{BlockStatusPending, BlockStatusComplete, false},
		{BlockStatusStreaming, BlockStatusComplete, true},
		{BlockStatusStreaming, BlockStatusError, true},
		{BlockStatusStreaming, BlockStatusPending, false},
		{BlockStatusComplete, BlockStatusError, false},
		{BlockStatusComplete, BlockStatusStreaming, false},
		{BlockStatusError, BlockStatusComplete, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.valid, ValidBlockTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestBlockStatusIsTerminal(t *testing.T) {
	assert.False(t, BlockStatusPending.IsTerminal())
	assert.False(t, BlockStatusStreaming.IsTerminal())
	assert.True(t, BlockStatusComplete.IsTerminal())
	assert.True(t, BlockStatusError.IsTerminal())
}
