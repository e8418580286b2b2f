package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Options jsou parametry jednoho běhu senderu (flagy, defaulty z ENV).
type Options struct {
	Host string
	Port int

	// Obsah datagramu. Raw má přednost před vším ostatním.
	Type   string
	Src    string
	Dst    string
	Msg    string
	Fields map[string]string
	Raw    string

	// Interval > 0 = opakované odesílání. Count 0 = dokud nepřijde signál.
	Interval time.Duration
	Count    int
}

// DefaultOptions vrací výchozí hodnoty flagů.
func DefaultOptions() Options {
	port, err := strconv.Atoi(getEnv("MESHCOM_PORT", "1799"))
	if err != nil {
		port = 1799
	}
	return Options{
		Host: getEnv("MESHCOM_HOST", "127.0.0.1"),
		Port: port,
		Type: "msg",
		Src:  getEnv("MESHCOM_SRC", "N0CALL-1"),
		Dst:  "*",
	}
}

// Validate kontroluje kombinace flagů, které cobra sama nepozná.
func (o Options) Validate() error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, errors.New("--host must not be empty"))
	}
	if o.Port < 1 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("--port %d out of range 1-65535", o.Port))
	}
	if o.Raw == "" && o.Type == "" {
		errs = append(errs, errors.New("--type must not be empty"))
	}
	if o.Interval < 0 {
		errs = append(errs, errors.New("--interval must not be negative"))
	}
	if o.Count < 0 {
		errs = append(errs, errors.New("--count must not be negative"))
	}
	if o.Interval == 0 && o.Count > 1 {
		errs = append(errs, errors.New("--count needs --interval"))
	}
	return errors.Join(errs...)
}

// Address vrací cíl ve tvaru host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
