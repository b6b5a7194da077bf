package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	info := Info{Version: "v1.0.0", Commit: "abc", GoVersion: "go1.24"}
	assert.Equal(t, "v1.0.0 (abc, go1.24)", info.String())

	info.Date = "2025-01-02T03:04:05Z"
	assert.Equal(t, "v1.0.0 (abc, go1.24) built 2025-01-02T03:04:05Z", info.String())
	assert.Equal(t, Version, Get().Version)
}
