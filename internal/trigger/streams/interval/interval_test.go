package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wavs-network/operator/internal/types"
)

func TestMatches_EveryNBlocksFromStart(t *testing.T) {
	trig := types.Trigger{Start: 100, Period: 10, Kickoff: 0}
	assert.True(t, Matches(trig, 100))
	assert.True(t, Matches(trig, 110))
	assert.False(t, Matches(trig, 105))
	assert.False(t, Matches(trig, 99))
}

func TestMatches_RespectsEnd(t *testing.T) {
	trig := types.Trigger{Start: 0, Period: 5, End: 20}
	assert.True(t, Matches(trig, 20))
	assert.False(t, Matches(trig, 25))
}

func TestMatches_ZeroPeriodFiresOnceAtStart(t *testing.T) {
	trig := types.Trigger{Start: 42, Period: 0}
	assert.True(t, Matches(trig, 42))
	assert.False(t, Matches(trig, 43))
}
