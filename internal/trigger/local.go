package trigger

import "github.com/wavs-network/operator/internal/types"

// LocalEvent is a manually-fired trigger, used for the TriggerManual kind
// (operator CLI "run workflow now" / local testing).
type LocalEvent struct {
	Service  types.ServiceID
	Workflow types.WorkflowID
	Data     types.TriggerData
}

// Local is a simple buffered channel source the admin surface writes to
// directly; there is no external stream to poll or subscribe to.
type Local struct {
	ch chan LocalEvent
}

func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 16
	}
	return &Local{ch: make(chan LocalEvent, buffer)}
}

// Fire enqueues a manual trigger. Returns false if the buffer is full.
func (l *Local) Fire(ev LocalEvent) bool {
	select {
	case l.ch <- ev:
		return true
	default:
		return false
	}
}

func (l *Local) C() <-chan LocalEvent { return l.ch }
