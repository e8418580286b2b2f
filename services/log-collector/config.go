package main

import (
	"fmt"
	"os"
	"strconv"
)

// Config drží nastavení služby Log Collector. Vše z ENV (Docker volume, K8s, localhost).
type Config struct {
	// MQTTBroker: Adresa brokera (např. tcp://mosquitto:1883)
	MQTTBroker string

	// MQTTClientID: Unikátní ID klienta.
	MQTTClientID string

	// LogTopic: Topic s logy. Služby publikují na "logs/<služba>".
	LogTopic string

	// LogDir: Adresář s denními soubory <služba>-YYYY-MM-DD.log.
	LogDir string

	// Retain: Kolik denních souborů na službu držíme. 0 = bez mazání.
	Retain int
}

// LoadConfig načte konfiguraci z OS. Pokud proměnná chybí, použije default.
func LoadConfig() (Config, error) {
	cfg := Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://mosquitto:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		LogTopic:     getEnv("LOG_TOPIC", "logs/#"),
		LogDir:       getEnv("LOG_DIR", "/var/log/meshcom"),
	}

	retain, err := strconv.Atoi(getEnv("LOG_RETAIN", "14"))
	if err != nil || retain < 0 {
		return cfg, fmt.Errorf("LOG_RETAIN must be a non-negative integer, got %q", os.Getenv("LOG_RETAIN"))
	}
	cfg.Retain = retain
	return cfg, nil
}

// getEnv je pomocná funkce pro bezpečné čtení ENV.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
