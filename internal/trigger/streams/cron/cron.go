// Package cron fires scheduled triggers on a real 5-field cron schedule, or
// a 6-field one with a leading seconds field.
// services/automation/automation_triggers.go's parseNextCronExecution flags
// itself as a placeholder ("Production would use a full cron parser") —
// this package is that full parser, via robfig/cron/v3 instead of
// hand-rolled field parsing.
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wavs-network/operator/internal/types"
)

// Entry pairs a parsed schedule with the (service, workflow) it fires.
type Entry struct {
	Service  types.ServiceID
	Workflow types.WorkflowID
	Expr     string
}

// Event is emitted each time one Entry's schedule fires.
type Event struct {
	Service       types.ServiceID
	Workflow      types.WorkflowID
	ScheduledUnix int64
}

// Scheduler wraps a cron.Cron instance, adding/removing entries as services
// are hot-loaded without requiring a restart.
type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	ids     map[types.WorkflowID]cron.EntryID
	out     chan<- Event
	running bool
}

func New(out chan<- Event) *Scheduler {
	return &Scheduler{
		c:   cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		ids: make(map[types.WorkflowID]cron.EntryID),
		out: out,
	}
}

// Add schedules entry, replacing any existing schedule for the same
// workflow.
func (s *Scheduler) Add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[entry.Workflow]; ok {
		s.c.Remove(id)
	}

	service, workflow := entry.Service, entry.Workflow
	id, err := s.c.AddFunc(entry.Expr, func() {
		select {
		case s.out <- Event{Service: service, Workflow: workflow, ScheduledUnix: time.Now().Unix()}:
		default:
			// a stalled downstream consumer drops a tick rather than blocking
			// the shared cron goroutine; the next scheduled fire still lands.
		}
	})
	if err != nil {
		return err
	}
	s.ids[entry.Workflow] = id
	return nil
}

// Has reports whether workflow currently has a scheduled entry.
func (s *Scheduler) Has(workflow types.WorkflowID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[workflow]
	return ok
}

func (s *Scheduler) Remove(workflow types.WorkflowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[workflow]; ok {
		s.c.Remove(id)
		delete(s.ids, workflow)
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.c.Start()
		s.running = true
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		<-s.c.Stop().Done()
	}()
}

