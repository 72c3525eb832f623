package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	old := Logger
	Logger = zap.New(core)
	defer func() { Logger = old }()

	Trace("resize")()

	entries := logs.FilterMessage("trace").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "resize", fields["name"])
	assert.Contains(t, fields, "elapsed")
}
