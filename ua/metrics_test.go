package ua

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsBindEventsCountsTransactions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	events := &EventBus{}
	m.bindEvents(events, newSubscriptionStore(), newApplicantStore())

	events.emitNewTransaction(TransactionEvent{Key: "k1"})
	events.emitNewTransaction(TransactionEvent{Key: "k2"})
	events.emitTransactionDestroyed(TransactionEvent{Key: "k1"})

	if got := counterValue(t, m.transactionsTotal); got != 2 {
		t.Fatalf("expected transactionsTotal=2, got %v", got)
	}
	if got := counterValue(t, m.transactionsDestroyed); got != 1 {
		t.Fatalf("expected transactionsDestroyed=1, got %v", got)
	}
}

func TestMetricsBindEventsTracksRegistrationState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	events := &EventBus{}
	m.bindEvents(events, newSubscriptionStore(), newApplicantStore())

	events.emitRegistrationFailed(RegistrationFailedEvent{})

	if got := counterValue(t, m.registrationFailures); got != 1 {
		t.Fatalf("expected registrationFailures=1, got %v", got)
	}
}
