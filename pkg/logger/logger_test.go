package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_LevelParsing(t *testing.T) {
	New(Config{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	New(Config{Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	New(Config{Level: "bananas"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
