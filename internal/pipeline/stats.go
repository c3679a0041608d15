package pipeline

import (
	"sort"
	"sync"
)

// QueueStats is a snapshot of one stage queue
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Stalled   int    `json:"stalled"`
}

type counters struct {
	active    int
	completed int
	failed    int
	stalled   int
}

type statsRegistry struct {
	mu     sync.Mutex
	queues map[string]*counters
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{queues: make(map[string]*counters)}
}

func (r *statsRegistry) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.queues[ev.Queue]
	if !ok {
		c = &counters{}
		r.queues[ev.Queue] = c
	}

	switch ev.Kind {
	case EventActive:
		c.active++
	case EventCompleted:
		c.active--
		c.completed++
	case EventFailed:
		c.active--
		c.failed++
	case EventStalled:
		c.stalled++
	}
}

// reset clears finished-job counters; failed and stalled only when all is set
func (r *statsRegistry) reset(all bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.queues {
		c.completed = 0
		if all {
			c.failed = 0
			c.stalled = 0
		}
	}
}

func (r *statsRegistry) snapshot(queues []string) []QueueStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		s := QueueStats{Queue: q}
		if c, ok := r.queues[q]; ok {
			s.Active = c.active
			s.Completed = c.completed
			s.Failed = c.failed
			s.Stalled = c.stalled
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}
