package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronRunsJob(t *testing.T) {
	cr := NewCron(time.UTC)
	var runs int32
	_, err := cr.Add("@every 1s", FuncJob(func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	}))
	require.NoError(t, err)
	require.Len(t, cr.Entries(), 1)

	cr.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)
	cr.Stop()
}

func TestCronStopCancelsJobContext(t *testing.T) {
	cr := NewCron(nil)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_, err := cr.Add("@every 1s", FuncJob(func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
			return
		}
		<-ctx.Done()
		close(cancelled)
	}))
	require.NoError(t, err)
	cr.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	cr.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("stop returned before the job observed cancellation")
	}
}

func TestCronRejectsBadSpec(t *testing.T) {
	_, err := NewCron(nil).Add("every now and then", FuncJob(func(context.Context) {}))
	assert.Error(t, err)
}
