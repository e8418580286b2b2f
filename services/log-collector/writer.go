package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const dayLayout = "2006-01-02"

var (
	// ErrInvalidService: název služby z topicu nejde bezpečně použít jako jméno souboru.
	ErrInvalidService = errors.New("invalid service name")

	serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// DailyWriter připisuje řádky do <dir>/<služba>-YYYY-MM-DD.log.
// Při prvním zápisu do nového dne smaže nejstarší soubory nad limit.
type DailyWriter struct {
	dir    string
	retain int
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	lastDay map[string]string // služba -> den posledního zápisu
}

func NewDailyWriter(dir string, retain int, logger *slog.Logger) *DailyWriter {
	return &DailyWriter{
		dir:     dir,
		retain:  retain,
		now:     time.Now,
		logger:  logger,
		lastDay: make(map[string]string),
	}
}

// Append zapíše jeden řádek. Soubor se pokaždé otevře a zavře (Open-Write-Close),
// takže ho jde kdykoliv přesunout nebo smazat zvenku.
func (w *DailyWriter) Append(service string, data []byte) error {
	if !serviceNamePattern.MatchString(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format(dayLayout)
	filename := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", service, day))

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	// Řádek + \n jedním zápisem, MQTT payload ho mít nemusí
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	_, err = f.Write(line)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	// Nový den (nebo první zápis po startu) -> úklid
	if w.lastDay[service] != day {
		w.lastDay[service] = day
		if err := w.prune(service); err != nil {
			w.logger.Warn("Úklid starých logů selhal", "service", service, "error", err)
		}
	}
	return nil
}

// prune nechá jen posledních `retain` denních souborů služby.
func (w *DailyWriter) prune(service string) error {
	if w.retain <= 0 {
		return nil
	}

	// Název služby je ověřený, žádné glob metaznaky neobsahuje
	matches, err := doublestar.Glob(os.DirFS(w.dir), service+"-*.log", doublestar.WithFilesOnly())
	if err != nil {
		return err
	}

	// "a-*.log" chytí i soubory služby "a-b", bereme jen přesný tvar s datem
	var files []string
	for _, name := range matches {
		if isDailyFile(service, name) {
			files = append(files, name)
		}
	}
	if len(files) <= w.retain {
		return nil
	}

	// Datum ve formátu YYYY-MM-DD se řadí i jako text
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	var errs []error
	for _, name := range files[w.retain:] {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		w.logger.Info("Smazán starý log", "file", name)
	}
	return errors.Join(errs...)
}

func isDailyFile(service, name string) bool {
	day, ok := strings.CutPrefix(name, service+"-")
	if !ok {
		return false
	}
	day, ok = strings.CutSuffix(day, ".log")
	if !ok {
		return false
	}
	_, err := time.Parse(dayLayout, day)
	return err == nil
}
