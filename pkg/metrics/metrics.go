package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics 指标管理器。所有方法对 nil 接收者安全，便于测试中省略。
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	dispatchOutcomes    *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	assignmentConflicts *prometheus.CounterVec
	assignmentsExpired  prometheus.Counter
	transitions         *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	calls               *prometheus.CounterVec
}

// NewMetrics 创建指标管理器，reg 为 nil 时注册到默认 registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		dispatchOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelsos_dispatch_outcomes_total",
				Help: "Dispatch results by priority and outcome",
			},
			[]string{"priority", "outcome"},
		),
		dispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuelsos_dispatch_duration_seconds",
				Help:    "Time from dispatch start to committed outcome",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"priority"},
		),
		assignmentConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelsos_assignment_conflicts_total",
				Help: "Assignment attempts rejected by a concurrent winner",
			},
			[]string{"reason"},
		),
		assignmentsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fuelsos_assignments_expired_total",
				Help: "Emergency assignments expired by the sweep or a cancellation",
			},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelsos_status_transitions_total",
				Help: "Committed request status transitions",
			},
			[]string{"to"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelsos_notifications_total",
				Help: "Fan-out notification attempts by event and delivery",
			},
			[]string{"event", "delivered"},
		),
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelsos_calls_total",
				Help: "Call session state changes",
			},
			[]string{"status"},
		),
	}

	// 系统指标，采集时读取
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fuelsos_system_memory_used_percent",
		Help: "Host memory usage percentage",
	}, func() float64 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0
		}
		return vm.UsedPercent
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fuelsos_system_cpu_percent",
		Help: "Host CPU usage percentage since the previous scrape",
	}, func() float64 {
		p, err := cpu.Percent(0, false)
		if err != nil || len(p) == 0 {
			return 0
		}
		return p[0]
	})

	return m
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordDispatch(priority, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchOutcomes.WithLabelValues(priority, outcome).Inc()
	m.dispatchDuration.WithLabelValues(priority).Observe(d.Seconds())
}

func (m *Metrics) RecordConflict(reason string) {
	if m == nil {
		return
	}
	m.assignmentConflicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.assignmentsExpired.Add(float64(n))
}

func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RecordNotification(event string, delivered bool) {
	if m == nil {
		return
	}
	d := "false"
	if delivered {
		d = "true"
	}
	m.notifications.WithLabelValues(event, d).Inc()
}

func (m *Metrics) RecordCall(status string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(status).Inc()
}
