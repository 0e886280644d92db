package reload

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"floodsentry/detect/config"
	"floodsentry/detect/metrics"
)

// Applier receives a freshly validated configuration. The engine and the
// mitigator both satisfy this.
type Applier interface {
	ApplyConfig(*config.Config)
}

// Manager watches the config file and re-applies it on change, so policy
// tuning (thresholds, weights, cadence) does not require a restart.
type Manager struct {
	watcher    *fsnotify.Watcher
	configPath string
	appliers   []Applier

	mu         sync.Mutex
	lastReload time.Time
	debounce   time.Duration
	stopChan   chan struct{}
	stopped    bool
}

// Config holds reload manager configuration.
type Config struct {
	ConfigPath   string
	DebounceTime time.Duration // minimum time between reloads
	WatchEnabled bool
}

// NewManager creates a reload manager pushing updates to the given appliers.
func NewManager(cfg Config, appliers ...Applier) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if cfg.DebounceTime == 0 {
		cfg.DebounceTime = 2 * time.Second
	}

	m := &Manager{
		watcher:    watcher,
		configPath: cfg.ConfigPath,
		appliers:   appliers,
		debounce:   cfg.DebounceTime,
		stopChan:   make(chan struct{}),
	}

	if cfg.WatchEnabled && cfg.ConfigPath != "" {
		// Watch the directory, not the file: editors and configuration
		// management tools replace files atomically via rename.
		if err := watcher.Add(filepath.Dir(cfg.ConfigPath)); err != nil {
			log.Printf("Warning: Could not watch config file - %v (automatic reloads will be unavailable)", err)
		} else {
			log.Printf("Now monitoring config file for changes: %s", cfg.ConfigPath)
			go m.watch()
		}
	}

	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != filepath.Base(m.configPath) {
				continue
			}
			m.handleChange()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleChange() {
	m.mu.Lock()
	if time.Since(m.lastReload) < m.debounce {
		m.mu.Unlock()
		return
	}
	m.lastReload = time.Now()
	m.mu.Unlock()

	log.Printf("Configuration file changed, reloading...")
	if err := m.reload("watch"); err != nil {
		log.Printf("Error: Failed to reload configuration - %v", err)
	}
}

// Reload re-reads the config file and applies it. The trigger label ends up
// in the reload metric ("sighup", "http", "watch").
func (m *Manager) Reload(trigger string) error {
	return m.reload(trigger)
}

func (m *Manager) reload(trigger string) error {
	cfg, err := config.LoadFile(m.configPath)
	if err != nil {
		return err
	}
	for _, a := range m.appliers {
		a.ApplyConfig(cfg)
	}
	metrics.ConfigReloads.WithLabelValues(trigger).Inc()
	log.Printf("Configuration reloaded successfully")
	return nil
}

// Stop shuts the watcher down.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)
	return m.watcher.Close()
}
