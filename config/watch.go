package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration file when it changes on disk and hands
// each valid reload to a callback. Invalid reloads are logged and skipped;
// the previous configuration stays in force.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// debounce collapses the editor write/rename bursts into one reload.
const debounce = 250 * time.Millisecond

// Watch starts watching path. The callback runs on the watcher goroutine.
func Watch(path string, log zerolog.Logger, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	log = log.With().Str("component", "config-watcher").Str("path", path).Logger()

	go func() {
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}
			case <-timerC:
				cfg, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Msg("config reload failed, keeping previous")
					continue
				}
				log.Info().Msg("config reloaded")
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watch error")
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
