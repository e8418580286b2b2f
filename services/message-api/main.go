package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Konfigurace a JSON logování (standard pro kontejnery)
	cfg, err := LoadConfig()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("Startuji MeshCom Message API", "port", cfg.HTTPPort, "table", cfg.TableName)

	ctx := context.Background()

	// 2. Připojení k databázi (historie zpráv)
	dbPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("Kritická chyba: Nelze se připojit k DB", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// 3. Valkey (volitelné, jen /api/nodes)
	var rdb *redis.Client
	if cfg.ValkeyAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.ValkeyAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Kritická chyba: Nelze se připojit k Valkey", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// 4. Sběrnice záznamů -> Hub -> WebSocket klienti (volitelné)
	var hub *Hub
	var client mqtt.Client
	if cfg.MQTTBroker != "" {
		hub = NewHub(logger)
		topic := cfg.RecordTopic + "/#"
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID("meshcom-message-api").
			SetAutoReconnect(true).
			// Po reconnectu se musíme přihlásit znovu
			SetOnConnectHandler(func(c mqtt.Client) {
				if token := c.Subscribe(topic, 0, hub.HandleMQTT); token.Wait() && token.Error() != nil {
					logger.Error("Chyba subscribe", "topic", topic, "error", token.Error())
					return
				}
				logger.Info("Odebírám sběrnici záznamů", "topic", topic)
			})
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Error("Fatal MQTT Error", "broker", cfg.MQTTBroker, "err", token.Error())
			os.Exit(1)
		}
	}

	// 5. Wiring
	svc := NewService(dbPool, rdb, cfg.TableName)
	api := NewAPIHandler(svc, hub, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// 6. HTTP server (CORS kvůli frontendu na jiném portu)
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           CorsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server naslouchá", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server spadl", "error", err)
			os.Exit(1)
		}
	}()

	// 7. Graceful Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Ukončuji Message API...")

	// Hijacknuté WebSockety Shutdown nezavře, ukončí je až zavřený hub
	if client != nil {
		client.Disconnect(250)
	}
	if hub != nil {
		hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
