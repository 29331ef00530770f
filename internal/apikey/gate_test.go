package apikey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	g := NewGate([]string{"default-secure-key-123", " another-secure-key-456 ", ""})
	assert.Equal(t, 2, g.Len())

	assert.True(t, g.Check("default-secure-key-123"))
	assert.True(t, g.Check("another-secure-key-456"))

	assert.False(t, g.Check(""))
	assert.False(t, g.Check("invalid-key"))
	assert.False(t, g.Check("default-secure-key-12"))
	assert.False(t, g.Check("DEFAULT-SECURE-KEY-123"))
}

func TestEmptyGateRejectsEverything(t *testing.T) {
	g := NewGate(nil)
	assert.False(t, g.Check("anything"))
	assert.False(t, g.Check(""))
}
