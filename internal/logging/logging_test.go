package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/config"
)

func TestSetupUsesJSONFormatterInProduction(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{Env: config.EnvProduction, LogLevel: "info"})
	require.NoError(t, err)

	jsonFormatter, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok, "expected JSON formatter, got %T", entry.Logger.Formatter)
	assert.Equal(t, "ts", jsonFormatter.FieldMap[logrus.FieldKeyTime])
	assert.Equal(t, serviceName, entry.Data["service"])
	assert.Equal(t, config.EnvProduction, entry.Data["env"])
}

func TestSetupUsesTextFormatterInDevelopment(t *testing.T) {
	resetLogger()

	entry, err := Setup(config.Config{Env: config.EnvDevelopment, LogLevel: "debug"})
	require.NoError(t, err)

	_, ok := entry.Logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok, "expected Text formatter, got %T", entry.Logger.Formatter)
	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
}

func TestSetupRejectsInvalidLogLevel(t *testing.T) {
	resetLogger()

	_, err := Setup(config.Config{Env: config.EnvDevelopment, LogLevel: "loud"})
	assert.Error(t, err)
	assert.Nil(t, baseLogger, "base logger should remain unset after failure")
}

func TestComponentAddsField(t *testing.T) {
	resetLogger()

	entry := Component("alert")
	assert.Equal(t, "alert", entry.Data["component"])
	assert.Equal(t, serviceName, entry.Data["service"])
}
