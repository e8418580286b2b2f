package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats je snímek stavu procesu pro /status.
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	RamUsedMB  float64 `json:"ram_used_mb"`
	RamTotalMB float64 `json:"ram_total_mb"`
}

// CollectProcessStats změří vlastní proces (RSS, CPU) a RAM systému.
// Chyby jednotlivých měření se jen zalogují, nic nepadá.
func CollectProcessStats(logger *slog.Logger) ProcessStats {
	var stats ProcessStats

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			stats.RSSMB = float64(memInfo.RSS) / 1024.0 / 1024.0
		} else {
			logger.Debug("Chyba při čtení RSS", "error", err)
		}
		// CPUPercent = průměr od startu procesu (neblokuje)
		if cpu, err := p.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
	}

	// Total - Available = paměť reálně držená aplikacemi (bez page cache)
	if vMem, err := mem.VirtualMemory(); err == nil {
		stats.RamUsedMB = float64(vMem.Total-vMem.Available) / 1024.0 / 1024.0
		stats.RamTotalMB = float64(vMem.Total) / 1024.0 / 1024.0
	} else {
		logger.Debug("Chyba při čtení RAM statistik", "error", err)
	}
	return stats
}

// StatusReport je odpověď /status.
type StatusReport struct {
	Service   string               `json:"service"`
	Uptime    string               `json:"uptime"`
	Listening string               `json:"listening"`
	Pools     map[string]PoolStats `json:"pools"`
	Process   ProcessStats         `json:"process"`
}

// statusSource dodává data pro /status (Dispatcher + Listener).
type statusSource interface {
	Stats() map[string]PoolStats
}

// newHealthMux sestaví router pro /health, /metrics a /status.
func newHealthMux(gatherer prometheus.Gatherer, pools statusSource, listening func() string, started time.Time, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		report := StatusReport{
			Service: "meshcom-listener",
			Uptime:  time.Since(started).Round(time.Second).String(),
			Pools:   map[string]PoolStats{},
			Process: CollectProcessStats(logger),
		}
		if listening != nil {
			report.Listening = listening()
		}
		if pools != nil {
			report.Pools = pools.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
		}
	})
	return mux
}

// startHealthServer spustí HTTP server na pozadí. Vrací ho kvůli Shutdown.
func startHealthServer(port string, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health server běží", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server spadl", "error", err)
		}
	}()
	return server
}
