package app

import (
	"sync"

	"feedrelay/internal/config"
)

// spawner starts one fetch loop per feed id, ever. Loops of feeds that leave
// the config are not stopped.
type spawner struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	start func(fc config.FeedConfig)
}

func newSpawner(start func(fc config.FeedConfig)) *spawner {
	return &spawner{seen: map[string]struct{}{}, start: start}
}

// Sync starts loops for feed ids not seen before and returns them.
func (s *spawner) Sync(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var started []string
	for _, f := range cfg.Feeds {
		if _, ok := s.seen[f.ID]; ok {
			continue
		}
		s.seen[f.ID] = struct{}{}
		fc, _ := cfg.SnapshotByID(f.ID)
		s.start(fc)
		started = append(started, f.ID)
	}
	return started
}

func (s *spawner) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
