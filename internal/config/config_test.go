package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	c := &Config{Port: 0, CubeSize: 1, RegionSize: 1, TableSize: 1, LogLevel: "info"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveSizes(t *testing.T) {
	c := &Config{Port: 8080, CubeSize: 0, RegionSize: 1, TableSize: 1, LogLevel: "info"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := &Config{Port: 8080, CubeSize: 1, RegionSize: 1, TableSize: 1, LogLevel: "verbose"}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{Port: 8080, CubeSize: 16, RegionSize: 16, TableSize: 256, LogLevel: "info"}
	assert.NoError(t, c.Validate())
}

// Size ordering is a warning, never a validation error (DESIGN.md Open
// Question decision 1).
func TestValidateAcceptsUnorderedSizes(t *testing.T) {
	c := &Config{Port: 8080, CubeSize: 256, RegionSize: 16, TableSize: 1, LogLevel: "info"}
	assert.NoError(t, c.Validate())
}
