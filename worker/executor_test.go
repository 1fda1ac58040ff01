package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog(t *testing.T) *logrus.Entry {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", t.Name())
}

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	exec := NewExecutor(2, 8, testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)

	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := exec.Submit("count", func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	cancel()
	exec.Shutdown()
	assert.Equal(t, 5, count)
}

func TestExecutorSurvivesPanicAndErrors(t *testing.T) {
	exec := NewExecutor(1, 8, testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)

	require.NoError(t, exec.Submit("boom", func(context.Context) error {
		panic("boom")
	}))
	require.NoError(t, exec.Submit("fail", func(context.Context) error {
		return errors.New("task error")
	}))

	done := make(chan struct{})
	require.NoError(t, exec.Submit("after", func(context.Context) error {
		close(done)
		return nil
	}))
	<-done

	cancel()
	exec.Shutdown()
}

func TestExecutorDrainsBacklogOnCancel(t *testing.T) {
	exec := NewExecutor(1, 16, testLog(t))
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 10; i++ {
		require.NoError(t, exec.Submit("queued", func(context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}))
	}

	// Start after cancelling: every queued task still runs before exit.
	exec.Start(ctx)
	cancel()
	exec.Shutdown()
	assert.Equal(t, 10, count)
}

func TestExecutorRejectsAfterShutdown(t *testing.T) {
	exec := NewExecutor(1, 1, testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)

	cancel()
	exec.Shutdown()

	err := exec.Submit("late", func(context.Context) error { return nil })
	require.Error(t, err)
}
