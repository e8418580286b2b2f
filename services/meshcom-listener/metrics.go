package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics drží Prometheus metriky služby.
// nil registry = nil metriky; všechny metody jsou na nil příjemci no-op.
type Metrics struct {
	packetsReceived   prometheus.Counter
	bytesReceived     prometheus.Counter
	packetsDropped    *prometheus.CounterVec // reason
	recordsDecoded    *prometheus.CounterVec // type
	recordsStored     prometheus.Counter
	storeErrors       prometheus.Counter
	notificationsSent prometheus.Counter
	notificationsLost prometheus.Counter
	queueDepth        *prometheus.GaugeVec   // pool
	queueDropped      *prometheus.CounterVec // pool
	workDuration      *prometheus.HistogramVec
	lastActivity      prometheus.Gauge
}

// NewMetrics vytvoří a zaregistruje metriky.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_packets_received_total",
			Help: "UDP datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_bytes_received_total",
			Help: "Bytes received over UDP",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcom_packets_dropped_total",
			Help: "Datagrams dropped before dispatch",
		}, []string{"reason"}),
		recordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcom_records_decoded_total",
			Help: "Records decoded, by type",
		}, []string{"type"}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_records_stored_total",
			Help: "Records written to the message store",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_store_errors_total",
			Help: "Failed writes to the message store",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_notifications_sent_total",
			Help: "Notifications delivered to the chat sink",
		}),
		notificationsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshcom_notifications_dropped_total",
			Help: "Notifications dropped after exhausting retries",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcom_queue_depth",
			Help: "Current worker queue depth",
		}, []string{"pool"}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcom_queue_dropped_total",
			Help: "Work items dropped because the queue was full",
		}, []string{"pool"}),
		workDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshcom_work_duration_seconds",
			Help:    "Time spent processing a work item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"pool", "status"}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcom_last_activity_timestamp",
			Help: "Unix time of the last received datagram",
		}),
	}

	reg.MustRegister(
		m.packetsReceived, m.bytesReceived, m.packetsDropped, m.recordsDecoded,
		m.recordsStored, m.storeErrors, m.notificationsSent, m.notificationsLost,
		m.queueDepth, m.queueDropped, m.workDuration, m.lastActivity,
	)
	return m
}

func (m *Metrics) PacketReceived(size int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(size))
	m.lastActivity.SetToCurrentTime()
}

func (m *Metrics) PacketDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDecoded(recordType string) {
	if m == nil {
		return
	}
	m.recordsDecoded.WithLabelValues(recordType).Inc()
}

func (m *Metrics) StoreResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storeErrors.Inc()
		return
	}
	m.recordsStored.Inc()
}

func (m *Metrics) NotifyResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.notificationsLost.Inc()
		return
	}
	m.notificationsSent.Inc()
}

func (m *Metrics) SetQueueDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(pool).Set(float64(depth))
}

func (m *Metrics) IncQueueDropped(pool string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(pool).Inc()
}

func (m *Metrics) ObserveWork(pool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.workDuration.WithLabelValues(pool, status).Observe(d.Seconds())
}
