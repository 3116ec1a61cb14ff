package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	logx "scorewatch/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchRestartMin = 250 * time.Millisecond
	watchRestartMax = 5 * time.Second
)

// Manager loads the config file and keeps the latest valid version.
//
// Watch republishes the file whenever it changes on disk and passes
// validation. A controller takes its own snapshot with Get when it is
// created and never sees a change mid-cycle.
type Manager struct {
	path     string
	log      logx.Logger
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config
	sum [32]byte

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), debounce: reloadDebounce}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// Parse reads and strictly decodes the file, then applies defaults.
// YAML files (.yaml, .yml) are accepted too. It does not validate.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if isYAMLPath(m.path) {
		if b, err = yamlToJSON(b); err != nil {
			return nil, err
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config object")
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Load parses and validates the file and makes it the current config.
// Validation failures are returned as joined *ConfigError values.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.set(cfg, checksum(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) set(cfg *Config, sum [32]byte) {
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func checksum(cfg *Config) [32]byte {
	b, err := json.Marshal(cfg)
	if err != nil {
		return [32]byte{}
	}
	return blake3.Sum256(b)
}

// Subscribe returns a channel receiving every published config. A slow
// subscriber only ever misses older versions, never the latest one.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and publishes it when it is valid and differs
// from the current config. It reports whether a new config went out.
func (m *Manager) reload() bool {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return false
	}
	sum := checksum(cfg)
	m.mu.RLock()
	same := sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false
	}
	if err := cfg.Validate(); err != nil {
		m.log.Warn("config rejected; keeping the previous one", logx.String("path", m.path), logx.Err(err))
		return false
	}
	m.set(cfg, sum)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("sum", fmt.Sprintf("%x", sum[:6])))
	return true
}

// Watch reloads the file after it changes on disk until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are seen. A broken watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	backoff := watchRestartMin
	for {
		started, err := m.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = watchRestartMin
		}
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchRestartMax)
	}
}

// watch runs one fsnotify watcher. started reports whether it got as far
// as receiving events.
func (m *Manager) watch(ctx context.Context) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), name) || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(m.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				timer.Reset(m.debounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-timer.C:
			m.reload()
		}
	}
}
