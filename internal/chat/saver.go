package chat

import "sync"

// saver serializes persistence triggers for one session: at most one
// write is in flight at a time, and triggers arriving during a write
// coalesce into a single rerun. Both the debounce timer and the
// immediate post-turn save go through here, so the two triggers can
// never race on the stored document.
type saver struct {
	save func()

	mu       sync.Mutex
	inflight bool
	dirty    bool
	wg       sync.WaitGroup
}

func newSaver(save func()) *saver {
	return &saver{save: save}
}

// request schedules a save. If one is already running the request is
// folded into a rerun after it completes.
func (s *saver) request() {
	s.mu.Lock()
	if s.inflight {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.inflight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run()
}

func (s *saver) run() {
	defer s.wg.Done()
	for {
		s.save()

		s.mu.Lock()
		if !s.dirty {
			s.inflight = false
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.mu.Unlock()
	}
}

// wait blocks until no write is in flight.
func (s *saver) wait() {
	s.wg.Wait()
}
