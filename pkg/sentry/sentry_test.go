package sentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/townhall/config"
)

func TestInit_NoDSN(t *testing.T) {
	enabled, err := Init(config.SentryConfig{})
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestInit_BadDSN(t *testing.T) {
	enabled, err := Init(config.SentryConfig{DSN: "not a dsn"})
	assert.Error(t, err)
	assert.False(t, enabled)
}
