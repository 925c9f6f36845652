package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithoutConsole(t *testing.T) {
	assert.Equal(t, []string{"file"}, withoutConsole([]string{"stderr", "file", "console"}))
	assert.Empty(t, withoutConsole([]string{"stderr"}))
}
