package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wavs-network/operator/internal/types"
)

func TestHost_CheckHTTP(t *testing.T) {
	perms := types.Permissions{HTTPAllowHosts: []string{"api.example.com"}}
	auditor := NewAuditor(10)
	h := NewHost("svc", "wf", perms, auditor)

	assert.NoError(t, h.CheckHTTP("api.example.com"))
	assert.Error(t, h.CheckHTTP("evil.example.com"))

	events := auditor.Recent(10)
	assert.Len(t, events, 2)
	assert.True(t, events[0].Allowed)
	assert.False(t, events[1].Allowed)
}

func TestHost_CheckFilesystemDefaultDeny(t *testing.T) {
	h := NewHost("svc", "wf", types.Permissions{}, nil)
	assert.Error(t, h.CheckFilesystem())
}

func TestHost_CheckEnvAllowlist(t *testing.T) {
	h := NewHost("svc", "wf", types.Permissions{EnvKeys: []string{"API_KEY"}}, nil)
	assert.NoError(t, h.CheckEnv("API_KEY"))
	assert.Error(t, h.CheckEnv("SECRET"))
}

func TestAuditor_DropsOldestWhenFull(t *testing.T) {
	a := NewAuditor(2)
	h := NewHost("svc", "wf", types.Permissions{}, a)
	_ = h.CheckEnv("a")
	_ = h.CheckEnv("b")
	_ = h.CheckEnv("c")

	events := a.Recent(10)
	assert.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Resource)
	assert.Equal(t, "c", events[1].Resource)
}
