package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipeAddress(t *testing.T) {
	assert.Equal(t, `\\.\pipe\dlmgr`, PipeAddress(""))
	assert.Equal(t, `\\.\pipe\custom`, PipeAddress("custom"))
	assert.Equal(t, `\\.\pipe\already`, PipeAddress(`\\.\pipe\already`))
}

func TestPipePathFromEnv(t *testing.T) {
	t.Setenv(PipeNameEnv, "")
	assert.Equal(t, PipeAddress(DefaultPipeName), PipePath())
	t.Setenv(PipeNameEnv, "other")
	assert.Equal(t, `\\.\pipe\other`, PipePath())
}
