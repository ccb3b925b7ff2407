package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(4, 16, nil)
		p.Start(context.Background())

		var n atomic.Int32
		for i := 0; i < 50; i++ {
			require.NoError(t, p.Submit(context.Background(), func(context.Context) { n.Add(1) }))
		}
		p.Stop()
		assert.Equal(t, int32(50), n.Load())
	})

	t.Run("任务panic不影响其他任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.Start(context.Background())

		var n atomic.Int32
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { n.Add(1) }))
		p.Stop()
		assert.Equal(t, int32(1), n.Load())
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrPoolStopped)
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("队列满时TrySubmit返回false", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		assert.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))
		p.Start(context.Background())
		p.Stop()
	})
}
