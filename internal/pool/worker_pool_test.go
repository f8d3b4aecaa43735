package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_CloseDrainsQueue(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 64})

	var executed atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func() { executed.Add(1) }))
	}

	// Close 之后所有已入队任务的效果必须可见
	p.Close()
	assert.Equal(t, int64(50), executed.Load())

	st := p.Stats()
	assert.Equal(t, int64(50), st.Submitted)
	assert.Equal(t, int64(50), st.Completed)
	assert.Equal(t, int64(0), st.Rejected)
}

func TestWorkerPool_RejectsWhenQueueFull(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1, IdleTimeout: time.Second})

	started := make(chan struct{})
	release := make(chan struct{})

	// 第一个任务占住唯一的工作协程
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// 第二个任务填满队列
	require.NoError(t, p.Submit(func() {}))

	// 第三个任务：队列已满且无法再扩容
	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	p.Close()

	st := p.Stats()
	assert.Equal(t, int64(2), st.Completed)
	assert.Equal(t, int64(1), st.Rejected)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(DefaultConfig())
	p.Close()

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_CloseIsIdempotent(t *testing.T) {
	p := New(DefaultConfig())
	require.NoError(t, p.Submit(func() {}))

	assert.NotPanics(t, func() {
		p.Close()
		p.Close()
	})
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	var captured atomic.Value
	p := New(Config{
		MaxWorkers: 2,
		QueueSize:  4,
		PanicHandler: func(r any) {
			captured.Store(r)
		},
	})

	require.NoError(t, p.Submit(func() { panic("boom") }))

	// panic 后任务池仍然可用
	var ok atomic.Bool
	require.NoError(t, p.Submit(func() { ok.Store(true) }))

	p.Close()
	assert.Equal(t, "boom", captured.Load())
	assert.True(t, ok.Load())
}
