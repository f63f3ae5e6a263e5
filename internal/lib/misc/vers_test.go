package misc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortRev(t *testing.T) {
	assert.Equal(t, "0123456", shortRev("0123456789abcdef"))
	assert.Equal(t, "abc123", shortRev("abc123"))
	assert.Equal(t, "", shortRev(""))
}

func TestGetVersionInfo(t *testing.T) {
	// test binaries carry build info but usually no vcs stamp - either way
	// the result must be non-empty and never panic
	assert.NotEmpty(t, GetVersionInfo())
}
