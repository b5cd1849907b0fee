package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavs-network/operator/internal/types"
)

type fakeInvoker struct {
	calls int32
	delay time.Duration
}

func (f *fakeInvoker) Invoke(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, trigger types.TriggerData) (types.WasmResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return types.WasmResponse{Payload: []byte("ok")}, nil
}

func TestSingleRunner_ProcessesAllJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fi := &fakeInvoker{}
	r := NewSingle(fi, nil)
	jobs := make(chan Job, 5)
	results := make(chan Result, 5)
	r.Start(ctx, jobs, results)

	for i := 0; i < 5; i++ {
		jobs <- Job{Workflow: types.Workflow{ID: types.WorkflowID("wf")}}
	}

	for i := 0; i < 5; i++ {
		select {
		case res := <-results:
			require.NoError(t, res.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&fi.calls))
}

func TestMultiRunner_ProcessesConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fi := &fakeInvoker{delay: 50 * time.Millisecond}
	r := NewMulti(fi, nil, 4)
	jobs := make(chan Job, 8)
	results := make(chan Result, 8)
	r.Start(ctx, jobs, results)

	start := time.Now()
	for i := 0; i < 8; i++ {
		jobs <- Job{Workflow: types.Workflow{ID: types.WorkflowID("wf")}}
	}
	for i := 0; i < 8; i++ {
		select {
		case res := <-results:
			require.NoError(t, res.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
	// 8 jobs at 50ms each across 4 workers should finish well under
	// the fully-sequential 400ms.
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, int32(8), atomic.LoadInt32(&fi.calls))
}
