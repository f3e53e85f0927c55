package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOtelEnabled(t *testing.T) {
	t.Setenv("OUTER_OTEL_ENABLED", "")
	assert.False(t, GetOtelEnabled())

	t.Setenv("OUTER_OTEL_ENABLED", "true")
	assert.True(t, GetOtelEnabled())

	t.Setenv("OUTER_OTEL_ENABLED", "FALSE")
	assert.False(t, GetOtelEnabled())

	t.Setenv("OUTER_OTEL_ENABLED", "0")
	assert.False(t, GetOtelEnabled())

	t.Setenv("OUTER_OTEL_ENABLED", "1")
	assert.True(t, GetOtelEnabled())
}
