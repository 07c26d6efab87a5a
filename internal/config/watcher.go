package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PromptOverrideWatcher watches the workspace root for changes to
// reflection.md/reflection.MD and invokes onChange with the file's new
// trimmed contents. It debounces rapid successive writes from editors that
// save in multiple steps.
type PromptOverrideWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	workspace string
	onChange  func(text string)
	debounce  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewPromptOverrideWatcher constructs a watcher for workspace's prompt
// override file. onChange is invoked (from a background goroutine) each
// time the file settles after a write or is removed (with text == "").
func NewPromptOverrideWatcher(workspace string, onChange func(text string)) (*PromptOverrideWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PromptOverrideWatcher{
		watcher:   w,
		workspace: workspace,
		onChange:  onChange,
		debounce:  300 * time.Millisecond,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching the workspace root in a background goroutine. It is
// non-blocking. Watching the directory (rather than the file) lets this
// survive reflection.md being deleted and recreated.
func (w *PromptOverrideWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.workspace); err != nil {
		return err
	}

	go w.run()
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *PromptOverrideWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *PromptOverrideWatcher) run() {
	defer close(w.doneCh)

	var pending bool
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isPromptOverridePath(event.Name) {
				continue
			}
			pending = true
			timer.Reset(w.debounce)

		case <-w.watcher.Errors:
			continue

		case <-timer.C:
			if pending {
				pending = false
				text, _ := ReadPromptOverride(w.workspace)
				w.onChange(text)
			}
		}
	}
}

func isPromptOverridePath(path string) bool {
	base := filepath.Base(path)
	for _, name := range promptOverrideNames {
		if base == name {
			return true
		}
	}
	return false
}
