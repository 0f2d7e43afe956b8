package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopDuration(t *testing.T) {
	r := NewRegistry()

	r.Start("backup")
	time.Sleep(time.Millisecond)
	require.NoError(t, r.Stop("backup"))

	d, err := r.Duration("backup")
	require.NoError(t, err)
	assert.Greater(t, d, time.Duration(0))
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRegistry()
	err := r.Stop("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never started")
}

func TestDurationBeforeStop(t *testing.T) {
	r := NewRegistry()
	r.Start("backup")

	_, err := r.Duration("backup")
	require.Error(t, err)
}

func TestDoubleStopKeepsFirstDuration(t *testing.T) {
	r := NewRegistry()

	r.Start("backup")
	require.NoError(t, r.Stop("backup"))
	first, err := r.Duration("backup")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	require.NoError(t, r.Stop("backup"))
	second, err := r.Duration("backup")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIndependentNames(t *testing.T) {
	r := NewRegistry()

	r.Start("a")
	r.Start("b")
	require.NoError(t, r.Stop("a"))
	require.NoError(t, r.Stop("b"))

	_, err := r.Duration("a")
	require.NoError(t, err)
	_, err = r.Duration("b")
	require.NoError(t, err)
}
