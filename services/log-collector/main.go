package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	// 1. Vlastní logger jen na stdout (collector neposílá logy sám sobě)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}
	logger.Info("Startuji Log Collector", "dir", cfg.LogDir, "retain_days", cfg.Retain)

	// 2. Příprava adresáře pro logy
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		logger.Error("Nelze vytvořit adresář pro logy", "error", err)
		os.Exit(1)
	}
	writer := NewDailyWriter(cfg.LogDir, cfg.Retain, logger)

	// 3. MQTT Handler: "logs/<služba>" -> <služba>-YYYY-MM-DD.log
	messageHandler := func(client mqtt.Client, msg mqtt.Message) {
		serviceName, ok := serviceFromTopic(msg.Topic())
		if !ok {
			logger.Warn("Ignoruji zprávu se špatným formátem topicu", "topic", msg.Topic())
			return
		}
		if err := writer.Append(serviceName, msg.Payload()); err != nil {
			if errors.Is(err, ErrInvalidService) {
				logger.Warn("Ignoruji log s neplatným názvem služby", "topic", msg.Topic())
				return
			}
			logger.Error("Chyba při zápisu do souboru", "service", serviceName, "error", err)
		}
	}

	// 4. Připojení k MQTT. Subscribe v OnConnect, aby přežil reconnect.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(cfg.LogTopic, 0, messageHandler); token.Wait() && token.Error() != nil {
				logger.Error("Subscribe failed", "topic", cfg.LogTopic, "error", token.Error())
				return
			}
			logger.Info("Poslouchám logy", "topic", cfg.LogTopic)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("MQTT Connection failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	// 5. Wait loop
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Ukončuji Log Collector")
}

// serviceFromTopic vrátí název služby z "logs/<služba>[/...]".
func serviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
