package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceIDFromTopic(t *testing.T) {
	assert.Equal(t, "pi-3", deviceIDFromTopic("smartbin/pi-3/level"))
	assert.Equal(t, "", deviceIDFromTopic("smartbin/begin"))
	assert.Equal(t, "", deviceIDFromTopic("a/b/c/d"))
}
