package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadSummary(t *testing.T) {
	assert.Equal(t, `{"a":1}`, PayloadSummary([]byte(`{"a":1}`)))
	long := strings.Repeat("x", 300)
	got := PayloadSummary([]byte(long))
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", MaxPayloadSummary)))
	assert.Contains(t, got, "truncated")
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	l := Nop{}
	assert.Equal(t, l, OrNop(l))
}
