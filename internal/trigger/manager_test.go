package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/types"
)

func TestManager_FireManualDeliversTriggerAction(t *testing.T) {
	registry := chain.NewRegistry()
	mgr := NewManager(registry, nil, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	ok := mgr.FireManual("svc1", "wf1", types.TriggerData{Kind: types.TriggerDataRaw, Data: []byte("hi")})
	require.True(t, ok)

	select {
	case action := <-mgr.Out():
		assert.Equal(t, types.ServiceID("svc1"), action.Service)
		assert.Equal(t, types.WorkflowID("wf1"), action.Workflow)
		assert.Equal(t, []byte("hi"), action.Data.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for manual trigger action")
	}
}

func TestManager_AddServiceIndexesCronEntry(t *testing.T) {
	registry := chain.NewRegistry()
	mgr := NewManager(registry, nil, 4)
	ctx := context.Background()

	svc := &types.Service{
		ID: "svc1",
		Workflows: map[types.WorkflowID]*types.Workflow{
			"wf1": {ID: "wf1", Trigger: types.Trigger{Kind: types.TriggerCron, CronExpr: "*/5 * * * * *"}},
		},
	}
	require.NoError(t, mgr.AddService(ctx, svc))
	assert.True(t, mgr.cron.Has("wf1"))
}
