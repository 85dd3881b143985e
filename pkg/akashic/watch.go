package akashic

import "sync"

// watcher gives tail followers a cheap wakeup: each append closes and
// replaces the relevant channels, so a subscriber selects on the channel
// and re-reads from its own offset when it fires. No events travel through
// the channels — ordering and durability stay with the file.
type watcher struct {
	mu      sync.Mutex
	global  chan struct{}
	streams map[string]chan struct{}
}

func newWatcher() *watcher {
	return &watcher{
		global:  make(chan struct{}),
		streams: make(map[string]chan struct{}),
	}
}

func (w *watcher) wake(streamID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.global)
	w.global = make(chan struct{})
	if ch, ok := w.streams[streamID]; ok {
		close(ch)
		w.streams[streamID] = make(chan struct{})
	}
}

func (w *watcher) watch(streamID string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.streams[streamID]
	if !ok {
		ch = make(chan struct{})
		w.streams[streamID] = ch
	}
	return ch
}

func (w *watcher) watchAll() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.global
}

// Watch returns a channel that is closed by the next append to streamID.
// Grab the channel, read up to the tail, then select on the channel: any
// append between the read and the select still fires it.
func (s *Store) Watch(streamID string) <-chan struct{} {
	return s.watch.watch(streamID)
}

// WatchAll returns a channel closed by the next append to any stream.
func (s *Store) WatchAll() <-chan struct{} {
	return s.watch.watchAll()
}
