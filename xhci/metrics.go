package xhci

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softxhci/xhci/trb"
)

// Metrics counts driver activity. A nil *Metrics records nothing.
type Metrics struct {
	commandsSubmitted prometheus.Counter
	ringFull          prometheus.Counter
	interrupts        prometheus.Counter
	events            *prometheus.CounterVec
	completions       *prometheus.CounterVec
}

// NewMetrics creates the driver counters and registers them with reg if
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace, subsystem = "xhci", "driver"
	m := &Metrics{
		commandsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_submitted_total",
			Help:      "Commands placed on the Command Ring.",
		}),
		ringFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "command_ring_full_total",
			Help:      "Command submissions rejected because the Command Ring was full.",
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interrupts_total",
			Help:      "Interrupts handled.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Event TRBs consumed from the Event Ring, by TRB type.",
		}, []string{"type"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "command_completions_total",
			Help:      "Command Completion Events, by completion code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.commandsSubmitted, m.ringFull, m.interrupts, m.events, m.completions)
	}
	return m
}

func (m *Metrics) commandSubmitted() {
	if m != nil {
		m.commandsSubmitted.Inc()
	}
}

func (m *Metrics) commandRingFull() {
	if m != nil {
		m.ringFull.Inc()
	}
}

func (m *Metrics) interrupt() {
	if m != nil {
		m.interrupts.Inc()
	}
}

func (m *Metrics) event(t trb.Type) {
	if m != nil {
		m.events.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) completion(c trb.CompletionCode) {
	if m != nil {
		m.completions.WithLabelValues(c.String()).Inc()
	}
}
