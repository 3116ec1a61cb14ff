package logx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig describes the daily JSON log files.
// Files are named <Dir>/<Prefix>-YYYY-MM-DD.log. ErrorFile is the
// append-only journal for full failure traces; it is relative to Dir
// unless absolute.
type FileConfig struct {
	Enabled   bool
	Dir       string
	Prefix    string
	ErrorFile string
}

const (
	dayLayout      = "2006-01-02"
	timeLayout     = "2006-01-02T15:04:05.000Z07:00"
	defaultPrefix  = "scorewatch"
	defaultJournal = "scorewatch-errors.log"
)

// Service owns the log sinks. Loggers derived from it pick up Apply and
// Rotate without being recreated.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	cfg  Config
	file *os.File
	day  string
}

// New builds the service from cfg and returns it with its root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeLayout

	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Config returns the configuration currently in effect.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps level and sinks at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.openLocked(time.Now())
}

// Rotate moves the file sink to now's daily file. Nothing happens while
// the open file already belongs to that day.
func (s *Service) Rotate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.File.Enabled && s.day != now.Format(dayLayout) {
		s.openLocked(now)
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFileLocked()
}

func (s *Service) closeFileLocked() error {
	f := s.file
	s.file, s.day = nil, ""
	if f == nil {
		return nil
	}
	return f.Close()
}

func (s *Service) openLocked(now time.Time) {
	_ = s.closeFileLocked()

	var sinks []io.Writer
	if s.cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if s.cfg.File.Enabled {
		if f, err := openDaily(s.cfg.File, now); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file, s.day = f, now.Format(dayLayout)
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		// Never go fully silent: a broken file sink still reaches stderr.
		sinks = append(sinks, consoleWriter(os.Stderr))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(s.cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func openDaily(fc FileConfig, now time.Time) (*os.File, error) {
	dir := dirOf(fc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(fc.Prefix, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Prune removes daily log files other than today's and yesterday's and
// returns the names it removed.
func (s *Service) Prune(now time.Time) ([]string, error) {
	fc := s.Config().File
	if !fc.Enabled {
		return nil, nil
	}
	return PruneDir(dirOf(fc), fc.Prefix, now)
}

// PruneDir removes every <prefix>-YYYY-MM-DD.log in dir except the files
// of now's day and the day before. Other files are left alone.
func PruneDir(dir, prefix string, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	today := FileName(prefix, now)
	yesterday := FileName(prefix, now.AddDate(0, 0, -1))

	var removed []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == today || name == yesterday || !isDailyFile(prefix, name) {
			continue
		}
		err := os.Remove(filepath.Join(dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

// AppendError adds a titled failure trace to the error journal.
func (s *Service) AppendError(now time.Time, title, detail string) error {
	fc := s.Config().File
	path := strings.TrimSpace(fc.ErrorFile)
	if path == "" {
		path = defaultJournal
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dirOf(fc), path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	entry := fmt.Sprintf("=== %s %s\n%s\n\n", now.Format(time.RFC3339), title, strings.TrimRight(detail, "\n"))
	if _, err := f.WriteString(entry); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// FileName returns the daily log file name for day.
func FileName(prefix string, day time.Time) string {
	return prefixOr(prefix) + "-" + day.Format(dayLayout) + ".log"
}

func isDailyFile(prefix, name string) bool {
	date, ok := strings.CutPrefix(name, prefixOr(prefix)+"-")
	if !ok {
		return false
	}
	date, ok = strings.CutSuffix(date, ".log")
	if !ok {
		return false
	}
	_, err := time.Parse(dayLayout, date)
	return err == nil
}

func prefixOr(prefix string) string {
	if p := strings.TrimSpace(prefix); p != "" {
		return p
	}
	return defaultPrefix
}

func dirOf(fc FileConfig) string {
	if d := strings.TrimSpace(fc.Dir); d != "" {
		return d
	}
	return "."
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeLayout,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// parseLevel accepts zerolog level names plus "warning". Unknown or empty
// names mean info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
