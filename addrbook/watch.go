package addrbook

import (
	"github.com/rjeczalik/notify"
)

// WatchAndReload watches cfg.PersistencePath for external edits (e.g. an
// operator restoring a backup snapshot while the node is running) and
// reloads the catalog whenever a write lands. It returns immediately; call
// StopWatching to tear the watcher down. Grounded on the teacher's use of
// rjeczalik/notify to pick up on-disk changes to its keystore directory.
func (b *Book) WatchAndReload() error {
	if b.cfg.PersistencePath == "" {
		return nil
	}
	events := make(chan notify.EventInfo, 8)
	if err := notify.Watch(b.cfg.PersistencePath+"/...", events, notify.Write, notify.Create); err != nil {
		return err
	}

	b.mu.Lock()
	b.watchStop = make(chan struct{})
	stop := b.watchStop
	b.mu.Unlock()

	go func() {
		defer notify.Stop(events)
		for {
			select {
			case <-stop:
				return
			case <-events:
				if err := b.Load(); err != nil {
					b.log.Warn("reload after external edit failed", "err", err)
				} else {
					b.log.Debug("reloaded catalog after external edit")
				}
			}
		}
	}()
	return nil
}

// StopWatching tears down a watcher started by WatchAndReload, if any.
func (b *Book) StopWatching() {
	b.mu.Lock()
	stop := b.watchStop
	b.watchStop = nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
