package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/himanishpuri/TapSense/pkg/logger"
)

// HotConfig wraps Config with hot-reload support. A reload that fails to
// parse or validate keeps the previous config.
type HotConfig struct {
	mu      sync.RWMutex
	cfg     *Config
	path    string
	subs    []func(*Config)
	log     *logger.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewHotConfig(path string, log *logger.Logger) (*HotConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &HotConfig{cfg: cfg, path: path, log: log.With("[config]")}, nil
}

func (hc *HotConfig) Get() *Config {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.cfg
}

// OnReload registers a callback for config changes
func (hc *HotConfig) OnReload(fn func(*Config)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.subs = append(hc.subs, fn)
}

func (hc *HotConfig) reload() {
	cfg, err := Load(hc.path)
	if err != nil {
		hc.log.Errorf("reload of %s failed, keeping previous config: %v", hc.path, err)
		return
	}

	hc.mu.Lock()
	hc.cfg = cfg
	subs := append([]func(*Config){}, hc.subs...)
	hc.mu.Unlock()

	hc.log.Infof("🔄 reloaded %s", hc.path)
	for _, fn := range subs {
		fn(cfg)
	}
}

// Watch starts watching the config file for changes. The parent directory
// is watched so that editors which replace the file are picked up.
func (hc *HotConfig) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(hc.path)); err != nil {
		watcher.Close()
		return err
	}

	hc.watcher = watcher
	hc.done = make(chan struct{})
	target := filepath.Clean(hc.path)

	go func() {
		defer close(hc.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					hc.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				hc.log.Errorf("watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher started by Watch.
func (hc *HotConfig) Close() error {
	if hc.watcher == nil {
		return nil
	}
	err := hc.watcher.Close()
	<-hc.done
	hc.watcher = nil
	return err
}
