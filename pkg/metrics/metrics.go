// Package metrics records launcher activity in a private Prometheus registry
// that can be dumped to a node_exporter textfile on exit.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunlightlinux/slaunch/pkg/service"
)

const namespace = "slaunch"

// Recorder holds the launcher metrics for one service.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	polls       prometheus.Counter
	interrupts  prometheus.Counter
	state       prometheus.Gauge
	waits       *prometheus.HistogramVec
}

// New creates a Recorder whose metrics carry the given service name.
func New(serviceName string) *Recorder {
	labels := prometheus.Labels{"service": serviceName}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transition_requests_total",
			Help:        "Start and stop requests issued to the service.",
			ConstLabels: labels,
		}, []string{"action"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "status_polls_total",
			Help:        "Status queries issued to the service.",
			ConstLabels: labels,
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "interrupts_total",
			Help:        "Interrupt signals received by the launcher.",
			ConstLabels: labels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "service_state",
			Help:        "Last observed service state (0=stopped 1=starting 2=running 3=stopping 4=unknown).",
			ConstLabels: labels,
		}),
		waits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "wait_duration_seconds",
			Help:        "Time spent waiting for the service to reach a target state.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"target", "outcome"}),
	}
	r.registry.MustRegister(r.transitions, r.polls, r.interrupts, r.state, r.waits)
	return r
}

// TransitionRequested counts a start or stop request.
func (r *Recorder) TransitionRequested(action string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(action).Inc()
}

// StatusObserved counts a status poll and records the observed state.
func (r *Recorder) StatusObserved(s service.State) {
	if r == nil {
		return
	}
	r.polls.Inc()
	r.state.Set(float64(s))
}

// Interrupted counts an interrupt signal.
func (r *Recorder) Interrupted() {
	if r == nil {
		return
	}
	r.interrupts.Inc()
}

// WaitObserved records how long a wait for target took and how it ended.
func (r *Recorder) WaitObserved(target service.State, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.waits.WithLabelValues(target.String(), outcome).Observe(d.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
