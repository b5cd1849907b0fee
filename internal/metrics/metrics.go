// Package metrics exposes the prometheus counters/gauges each subsystem
// increments on the hot path, via github.com/prometheus/client_golang and
// the "package-level collector vars registered once" idiom.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EngineOutOfFuel = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wavs_engine_out_of_fuel_total",
		Help: "Component invocations that exhausted their fuel budget.",
	})
	EngineOutOfTime = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wavs_engine_out_of_time_total",
		Help: "Component invocations that exceeded their wall-clock time limit.",
	})
	EngineInstantiateErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wavs_engine_instantiate_errors_total",
		Help: "Component instantiation failures.",
	})

	TriggerActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wavs_trigger_actions_total",
		Help: "Trigger actions dispatched to the engine, by trigger kind.",
	}, []string{"trigger_kind"})

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wavs_submissions_total",
		Help: "Submissions attempted, by destination kind and outcome.",
	}, []string{"submit_kind", "outcome"})

	AggregatorQueueState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wavs_aggregator_queue_state",
		Help: "Current number of quorum queues by state.",
	}, []string{"state"})
)

// Register adds every collector to reg. Call once at startup; a nil reg
// registers against prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		EngineOutOfFuel,
		EngineOutOfTime,
		EngineInstantiateErrors,
		TriggerActionsTotal,
		SubmissionsTotal,
		AggregatorQueueState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
