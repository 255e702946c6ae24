// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package flow

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts task executions and reverts per flow
type Metrics struct {
	executions *prometheus.CounterVec
	reverts    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the flow metrics and registers them on reg. Collectors
// already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vthunder_flow_task_executions_total",
			Help: "Total number of task executions by result",
		}, []string{"flow", "task", "result"}),
		reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vthunder_flow_task_reverts_total",
			Help: "Total number of task reverts",
		}, []string{"flow", "task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vthunder_flow_task_duration_seconds",
			Help:    "Duration of task executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow", "task"}),
	}

	var err error
	if m.executions, err = register(reg, m.executions); err != nil {
		return nil, err
	}
	if m.reverts, err = register(reg, m.reverts); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observe(flow, task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.executions.WithLabelValues(flow, task, result).Inc()
	m.duration.WithLabelValues(flow, task).Observe(d.Seconds())
}

func (m *Metrics) reverted(flow, task string) {
	if m == nil {
		return
	}
	m.reverts.WithLabelValues(flow, task).Inc()
}

// Executions returns the execution counter
func (m *Metrics) Executions() *prometheus.CounterVec {
	return m.executions
}

// Reverts returns the revert counter
func (m *Metrics) Reverts() *prometheus.CounterVec {
	return m.reverts
}
