package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitLoggerRespectsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	InitLogger()
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	t.Setenv("LOG_LEVEL", "nonsense")
	InitLogger()
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestInitLoggerTextFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	InitLogger()
	_, ok := Logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)

	t.Setenv("LOG_FORMAT", "")
	InitLogger()
	_, ok = Logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
