package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file for writes and reloads+revalidates on
// change, publishing the new Config to callback. A reload that fails
// validation is logged and discarded; the previously loaded Config remains
// active.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a hot-reload watcher for the config file at path.
func NewWatcher(path string, callback func(*Config)) *Watcher {
	return &Watcher{path: path, callback: callback, done: make(chan struct{})}
}

// Start begins watching. Call Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	log.Printf("config: watching %s for changes", w.path)
	return nil
}

func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("config: reload rejected, keeping previous config: %v", err)
				continue
			}
			if w.callback != nil {
				w.callback(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
