package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPools map[string]PoolStats

func (s staticPools) Stats() map[string]PoolStats { return s }

func TestHealthMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.PacketReceived(42)
	metrics.PacketDropped("decode")

	pools := staticPools{storePoolName: {Workers: 1, QueueSize: 1000, Submitted: 7}}
	mux := newHealthMux(reg, pools, func() string { return "0.0.0.0:1799" }, time.Now(), discardLogger())

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "meshcom_packets_received_total 1")
		assert.Contains(t, rec.Body.String(), `meshcom_packets_dropped_total{reason="decode"} 1`)
	})

	t.Run("status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var report StatusReport
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
		assert.Equal(t, "meshcom-listener", report.Service)
		assert.Equal(t, "0.0.0.0:1799", report.Listening)
		assert.Equal(t, int64(7), report.Pools[storePoolName].Submitted)
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PacketReceived(1)
		m.PacketDropped("x")
		m.RecordDecoded("msg")
		m.StoreResult(nil)
		m.NotifyResult(assert.AnError)
		m.SetQueueDepth("store", 1)
		m.IncQueueDropped("store")
		m.ObserveWork("store", time.Millisecond, nil)
	})
	assert.Nil(t, NewMetrics(nil))
}

func TestTopicSegment(t *testing.T) {
	assert.Equal(t, "msg", topicSegment("msg"))
	assert.Equal(t, "a_b_c_d", topicSegment("a/b+c#d"))
}
