package agent

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasksAndSurvivesPanics(t *testing.T) {
	p := newPool(2, 10)

	var ran int32
	require.NoError(t, p.submit(func() { panic("task exploded") }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.submit(func() { atomic.AddInt32(&ran, 1) }))
	}

	p.stopWait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, p.submit(func() {}), ErrPoolStopped)
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	p := newPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.submit(func() { close(started); <-block }))
	<-started
	require.NoError(t, p.submit(func() {}))
	assert.ErrorIs(t, p.submit(func() {}), ErrQueueFull)

	close(block)
	p.stop()
	p.stop()
}

func TestPool_StopDropsBacklog(t *testing.T) {
	p := newPool(1, 10)
	block := make(chan struct{})
	started := make(chan struct{})

	var ran int32
	require.NoError(t, p.submit(func() { close(started); <-block }))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, p.submit(func() { atomic.AddInt32(&ran, 1) }))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	p.stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}
