package fcgi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config holds the tunables of a Server. A zero Config is not ready to
// serve until DefaultConfig values have been merged in by NewServer.
type Config struct {
	Addr           string
	Port           int
	MaxConcurrent  int
	ConnTimeout    time.Duration
	MaxHeaderBytes int

	Handler Handler
	Logger  Logger
}

// DefaultConfig returns the baseline values applied before any file or
// flag overrides.
func DefaultConfig() Config {
	return Config{
		Addr:           "0.0.0.0",
		Port:           8080,
		MaxConcurrent:  256,
		ConnTimeout:    5000 * time.Millisecond,
		MaxHeaderBytes: 16384,
	}
}

// Validate checks that c describes a Server that can actually bind and
// serve, returning a descriptive error otherwise.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("fcgi: config: port %d out of range 1-65535", c.Port)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("fcgi: config: max concurrent connections must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MaxHeaderBytes < 1 {
		return fmt.Errorf("fcgi: config: max header bytes must be at least 1, got %d", c.MaxHeaderBytes)
	}
	if c.ConnTimeout < 0 {
		return fmt.Errorf("fcgi: config: connection timeout must not be negative, got %v", c.ConnTimeout)
	}
	if c.Handler == nil {
		return fmt.Errorf("fcgi: config: handler must not be nil")
	}
	return nil
}

// configFile mirrors the JSON shape accepted on disk; it omits Handler
// and Logger, which are always supplied by the calling program.
type configFile struct {
	Addr           string `json:"addr"`
	Port           int    `json:"port"`
	MaxConcurrent  int    `json:"maxConcurrent"`
	ConnTimeoutMs  int    `json:"connTimeoutMs"`
	MaxHeaderBytes int    `json:"maxHeaderBytes"`
}

// LoadConfigFile reads a JSON config file at path and overlays it onto
// base, leaving any field the file omits at its base value; a field
// present in the file replaces the base value even when it is zero.
// Handler and Logger are never read from the file.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("fcgi: config: reading %s: %w", path, err)
	}
	var cf configFile
	cf.Addr = base.Addr
	cf.Port = base.Port
	cf.MaxConcurrent = base.MaxConcurrent
	cf.ConnTimeoutMs = int(base.ConnTimeout / time.Millisecond)
	cf.MaxHeaderBytes = base.MaxHeaderBytes
	if err := json.Unmarshal(data, &cf); err != nil {
		return base, fmt.Errorf("fcgi: config: parsing %s: %w", path, err)
	}
	out := base
	out.Addr = cf.Addr
	out.Port = cf.Port
	out.MaxConcurrent = cf.MaxConcurrent
	out.ConnTimeout = time.Duration(cf.ConnTimeoutMs) * time.Millisecond
	out.MaxHeaderBytes = cf.MaxHeaderBytes
	return out, nil
}

// ConfigWatcher reloads ConnTimeout and MaxHeaderBytes from a JSON file
// whenever it changes on disk, applying them to a running Server
// without a restart. Addr, Port, and Handler are fixed at listener
// bind time; MaxConcurrent is fixed once the bounded listener is
// constructed. A reload that changes any of those three is logged and
// ignored. Grounded on the golang.org/x/net stack's companion fsnotify
// usage pattern: watch the file's parent directory rather than the
// file itself, since editors commonly replace a config file via
// rename-into-place rather than an in-place write, and fsnotify stops
// delivering events for a path once it has been unlinked out from
// under the watch.
type ConfigWatcher struct {
	path     string
	fileName string
	watcher  *fsnotify.Watcher
	server   *Server
	logger   Logger

	mu   sync.Mutex
	last Config
}

// WatchConfigFile starts watching path for changes and applies
// ConnTimeout/MaxHeaderBytes updates to srv as they land. The returned
// ConfigWatcher must be closed by the caller when no longer needed.
func WatchConfigFile(path string, srv *Server, logger Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fcgi: config: starting watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("fcgi: config: watching %s: %w", dir, err)
	}
	cw := &ConfigWatcher{
		path:     path,
		fileName: filepath.Base(path),
		watcher:  w,
		server:   srv,
		logger:   logger,
		last:     srv.Config(),
	}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != cw.fileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.reload()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Errorf("fcgi: config watcher: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	next, err := LoadConfigFile(cw.path, cw.last)
	if err != nil {
		cw.logger.Errorf("fcgi: config: reload failed: %v", err)
		return
	}
	if next.Addr != cw.last.Addr || next.Port != cw.last.Port || next.MaxConcurrent != cw.last.MaxConcurrent {
		cw.logger.Warningf("fcgi: config: reload ignoring changed addr/port/maxConcurrent; restart required")
		next.Addr, next.Port, next.MaxConcurrent = cw.last.Addr, cw.last.Port, cw.last.MaxConcurrent
	}
	if err := next.Validate(); err != nil {
		cw.logger.Errorf("fcgi: config: reload produced invalid config: %v", err)
		return
	}
	cw.server.applyLiveConfig(next)
	cw.last = next
	cw.logger.Infof("fcgi: config: reloaded connTimeout=%v maxHeaderBytes=%d", next.ConnTimeout, next.MaxHeaderBytes)
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	return cw.watcher.Close()
}
