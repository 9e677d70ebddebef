package permissions

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const policyDebounce = 250 * time.Millisecond

// PolicyWatcher hot-reloads a Policy when its file changes on disk. Bursts
// of write events are debounced into a single reload; a reload failure keeps
// the previous rules active.
type PolicyWatcher struct {
	policy    *Policy
	watcher   *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	pendingMu sync.Mutex
	pending   *time.Timer
}

// WatchPolicy starts watching the policy's file.
func WatchPolicy(policy *Policy) (*PolicyWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(policy.path); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &PolicyWatcher{
		policy:  policy,
		watcher: fsWatcher,
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	log.Info().Str("path", policy.path).Msg("Watching approval policy for changes")
	return w, nil
}

// Stop stops watching.
func (w *PolicyWatcher) Stop() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.pendingMu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pendingMu.Unlock()

	return err
}

func (w *PolicyWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (w *PolicyWatcher) scheduleReload() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}

	w.pending = time.AfterFunc(policyDebounce, func() {
		if err := w.policy.Reload(); err != nil {
			log.Error().Err(err).Str("path", w.policy.path).Msg("Policy reload failed, keeping previous rules")
			return
		}

		// Editors that replace the file break the watch on the old inode.
		w.watcher.Add(w.policy.path)

		log.Info().
			Str("path", w.policy.path).
			Int("rules", w.policy.RuleCount()).
			Msg("Approval policy reloaded")
	})
}
