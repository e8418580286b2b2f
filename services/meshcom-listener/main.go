package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", getEnv("MESHCOM_CONFIG", "config.json"), "cesta ke konfiguračnímu souboru (JSON, komentáře povoleny)")
	pflag.Parse()

	// Dočasný logger jen na stdout, MQTT ještě neexistuje
	logger := newLogger(os.Stdout, getEnv("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	// 1. Načtení a validace konfigurace. Chyba = nezačneme vůbec poslouchat.
	cfg, err := LoadConfig(*configPath, logger)
	if err != nil {
		logger.Error("Neplatná konfigurace", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// 2. MQTT (volitelné): logy + sběrnice záznamů.
	// Klient musí vzniknout DŘÍVE než logger, jinak bychom start nezalogovali do MQTT.
	var (
		client     mqtt.Client
		mqttWriter *MqttLogWriter
		publisher  RecordPublisher
		logOut     io.Writer = os.Stdout
	)
	if cfg.MQTT.Broker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTT.Broker).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true)
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Error("Fatal MQTT Error", "broker", cfg.MQTT.Broker, "err", token.Error())
			os.Exit(1)
		}
		mqttWriter = NewMqttLogWriter(client, "meshcom-listener", 256)
		logOut = io.MultiWriter(os.Stdout, mqttWriter)
		if cfg.MQTT.RecordTopic != "" {
			publisher = NewMqttRecordPublisher(client, cfg.MQTT.RecordTopic)
		}
	}

	// 3. Finální logger (stdout + MQTT, úroveň z konfigurace)
	logger = newLogger(logOut, cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info("Spouštím službu MeshCom Listener",
		"udp", cfg.Listener.Host, "port", cfg.Listener.Port,
		"store_types", cfg.Listener.StoreTypes,
		"forwarding", cfg.Forwarding.Enabled, "rules", len(cfg.Rules()))

	// 4. Metriky
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	// 5. Šablony (default je zaručený validací)
	renderer, err := NewRenderer(cfg.Forwarding.Telegram.Templates, logger.With("component", "renderer"))
	if err != nil {
		logger.Error("Kritická chyba: šablony", "error", err)
		os.Exit(1)
	}

	// 6. Úložiště, jen když se má něco ukládat
	var store MessageStore
	if len(cfg.Listener.StoreTypes) > 0 {
		initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
		repo, err := NewRepository(initCtx, cfg.Database, cfg.Cache)
		if err == nil {
			err = repo.EnsureSchema(initCtx, cfg.Database.TableName)
		}
		cancelInit()
		if err != nil {
			// Docker kontejner se restartuje a zkusí to znovu
			logger.Error("Kritická chyba: Nelze připravit DB", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		store = repo
		logger.Info("Databáze připojeny", "table", cfg.Database.TableName, "valkey", cfg.Cache.ValkeyAddr != "")
	} else {
		logger.Warn("Seznam store_types je prázdný, nic se nebude ukládat")
	}

	// 7. Telegram
	var notifier Notifier
	if cfg.Forwarding.Enabled {
		notifier = NewTelegramNotifier(cfg.Forwarding.Telegram, NewRetryConfig(cfg.Forwarding.Retry), logger, metrics)
		if len(cfg.Rules()) == 0 {
			logger.Warn("Přeposílání je zapnuté, ale nejsou definována žádná pravidla")
		}
	}

	// 8. Dispatcher (pooly běží v kontextu, který zrušíme až po grace periodě)
	dispatcher := NewDispatcher(DispatcherDeps{
		Config:    cfg,
		Renderer:  renderer,
		Store:     store,
		Notifier:  notifier,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err := dispatcher.Start(context.Background()); err != nil {
		logger.Error("Kritická chyba: dispatcher", "error", err)
		os.Exit(1)
	}

	// 9. UDP socket
	listener := NewListener(cfg.Listener, dispatcher, logger, metrics)
	if err := listener.Bind(); err != nil {
		logger.Error("Kritická chyba: Nelze otevřít UDP socket", "error", err)
		os.Exit(1)
	}

	// 10. Health/metrics/status server
	var httpServer interface{ Shutdown(context.Context) error }
	if cfg.HTTP.Port != "" {
		listening := func() string {
			if addr := listener.LocalAddr(); addr != nil {
				return addr.String()
			}
			return ""
		}
		httpServer = startHealthServer(cfg.HTTP.Port, newHealthMux(reg, dispatcher, listening, time.Now(), logger), logger)
	}

	// 11. Hlavní smyčka příjmu
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- listener.Serve(ctx)
	}()

	// 12. Graceful Shutdown
	// Blokujeme hlavní vlákno, dokud nepřijde SIGINT (Ctrl+C) nebo SIGTERM (Docker stop).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Přijat signál ukončení", "signal", sig.String())
	case err := <-serveDone:
		logger.Error("Smyčka příjmu skončila", "error", err)
	}

	// A. Přestaneme přijímat
	cancel()
	listener.Close()

	// B. Rozpracovaná práce dostane grace periodu
	grace := cfg.Listener.ShutdownGrace.Duration
	if err := dispatcher.Shutdown(grace); err != nil {
		if errors.Is(err, ErrStopTimeout) {
			logger.Warn("Grace perioda vypršela, nedokončená práce zahozena", "grace", grace)
		} else {
			logger.Error("Chyba při ukončování dispatcheru", "error", err)
		}
	}

	if httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
		httpServer.Shutdown(shutdownCtx)
		cancelShutdown()
	}

	logger.Info("Služba ukončena")

	// C. Logy do MQTT dopošleme jako poslední
	if mqttWriter != nil {
		mqttWriter.Close()
	}
	if client != nil {
		client.Disconnect(250)
	}
	// Zbytek (repo.Close) proběhne v deferu
}
