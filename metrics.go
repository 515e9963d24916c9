package cipherledger

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "cipherledger"

type metrics struct {
	submitted       prometheus.Counter
	classifications *prometheus.CounterVec
	reveals         *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_submitted_total",
			Help:      "Transactions persisted as pending.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "classifications_total",
			Help:      "AML classifications by outcome.",
		}, []string{"status"}),
		reveals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reveals_total",
			Help:      "Plaintext reveal attempts by result.",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persist_failures_total",
			Help:      "Store writes that failed, by step.",
		}, []string{"step"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.submitted, m.classifications, m.reveals, m.persistFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
