package ua

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters/gauges a UA updates as it dispatches requests,
// tracks dialogs, and refreshes registration, grounded on the counter/gauge
// vocabulary the pack's dialog metrics collectors use (requests, active
// state, registration transitions) but scoped down to what this dispatcher
// actually observes.
type Metrics struct {
	transactionsTotal      prometheus.Counter
	transactionsDestroyed  prometheus.Counter
	sessionsActive         prometheus.Gauge
	subscriptionsActive    prometheus.Gauge
	applicantsActive       prometheus.Gauge
	registrationState      prometheus.Gauge
	registrationFailures   prometheus.Counter
	requestsByMethod       *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors against reg. Passing a
// dedicated *prometheus.Registry (rather than the package-global default)
// lets more than one UA run in the same process — tests included — without
// a "duplicate metrics collector registration" panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "transactions_total",
			Help:      "Server transactions handed to the dispatcher.",
		}),
		transactionsDestroyed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "transactions_destroyed_total",
			Help:      "Server transactions that reached a terminal state.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "sessions_active",
			Help:      "Inbound INVITE sessions accepted; not decremented when a session ends.",
		}),
		subscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "subscriptions_active",
			Help:      "SUBSCRIBE dialogs currently tracked.",
		}),
		applicantsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "applicants_active",
			Help:      "Out-of-dialog MESSAGE/OPTIONS requests currently being answered.",
		}),
		registrationState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "registration_state",
			Help:      "Registrator lifecycle state (0=unregistered,1=registering,2=registered,3=failed).",
		}),
		registrationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "registration_failures_total",
			Help:      "REGISTER attempts that ended in RegistrationFailedEvent.",
		}),
		requestsByMethod: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Subsystem: "ua",
			Name:      "requests_total",
			Help:      "Inbound OPTIONS and MESSAGE requests dispatched, by method.",
		}, []string{"method"}),
	}
}

// bindEvents wires the UA's own EventBus into the metrics, so callers get
// coverage for free just by constructing a UA — no manual instrumentation
// call sites scattered through the dispatcher.
func (m *Metrics) bindEvents(events *EventBus, subscriptions *subscriptionStore, applicants *applicantStore) {
	events.OnNewTransaction(func(TransactionEvent) { m.transactionsTotal.Inc() })
	events.OnTransactionDestroyed(func(TransactionEvent) { m.transactionsDestroyed.Inc() })

	events.OnNewSession(func(NewSessionEvent) { m.sessionsActive.Inc() })

	events.OnNewSubscribe(func(NewSubscribeEvent) {
		m.subscriptionsActive.Set(float64(subscriptions.Len()))
	})

	events.OnNewOptions(func(NewOptionsEvent) {
		m.requestsByMethod.WithLabelValues("OPTIONS").Inc()
		m.applicantsActive.Set(float64(applicants.Len()))
	})
	events.OnNewMessage(func(NewMessageEvent) {
		m.requestsByMethod.WithLabelValues("MESSAGE").Inc()
		m.applicantsActive.Set(float64(applicants.Len()))
	})

	events.OnRegistered(func(RegisteredEvent) { m.registrationState.Set(2) })
	events.OnUnregistered(func(UnregisteredEvent) { m.registrationState.Set(0) })
	events.OnRegistrationFailed(func(RegistrationFailedEvent) {
		m.registrationState.Set(3)
		m.registrationFailures.Inc()
	})
}
