package fiberrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	rt, err := New(Params{})
	require.NoError(t, err)
	require.NotNil(t, rt)

	assert.Greater(t, rt.ThreadCount(), 0)
	assert.NotNil(t, rt.Metrics(), "default Params should wire a MetricsObserver")
}

func TestRuntimeStartStopLifecycle(t *testing.T) {
	rt, err := New(Params{ThreadCount: 2, AsyncQueueSize: 64})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, rt.Start(ctx))
	assert.Equal(t, 2, rt.ThreadCount())

	// A second Start before Stop is a programmer error, not a retryable one.
	err = rt.Start(ctx)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindFatal))

	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, rt.Stop())
}

func TestRuntimeContextPanicsOutOfRange(t *testing.T) {
	rt, err := New(Params{ThreadCount: 1})
	require.NoError(t, err)

	assert.NotPanics(t, func() { rt.Context(0) })
	assert.Panics(t, func() { rt.Context(1) })
}

func TestRuntimeCustomObserverSkipsOwnMetrics(t *testing.T) {
	rt, err := New(Params{ThreadCount: 1, Observer: &NoOpObserver{}})
	require.NoError(t, err)
	assert.Nil(t, rt.Metrics(), "a caller-supplied Observer means Runtime owns no Metrics of its own")
}
