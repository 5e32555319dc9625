// Package progress fans out index job snapshots to subscribers.
// Publishers never block: a subscriber that does not drain keeps only
// the latest snapshot.
package progress

import (
	"sync"
	"time"

	"github.com/findexd/findex/internal/store"
)

// Snapshot is a point-in-time view of a running job.
type Snapshot struct {
	JobID          int64           `json:"job_id"`
	Status         store.JobStatus `json:"status"`
	Progress       float64         `json:"progress"` // 0..1, best effort
	ProcessedFiles int             `json:"processed_files"`
	TotalFiles     int             `json:"total_files"`
	ErrorCount     int             `json:"error_count"`
	Message        string          `json:"message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Hub is the snapshot fan-out. The transport layer maps subscriber
// channels 1:1 to wire messages.
type Hub struct {
	mu   sync.Mutex
	subs map[int64]map[chan Snapshot]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan Snapshot]struct{})}
}

// Subscribe registers for a job's snapshots. The returned cancel
// function detaches the subscription; the channel closes on terminal
// status or cancel, whichever comes first.
func (h *Hub) Subscribe(jobID int64) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Snapshot]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[jobID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers a snapshot to all subscribers of the job. Slow
// subscribers have their stale snapshot replaced rather than blocking
// the publisher. A terminal snapshot is delivered and then all
// subscriptions for the job are closed.
func (h *Hub) Publish(snap Snapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[snap.JobID]
	for ch := range set {
		// Keep-latest-one: drop the stale snapshot if the buffer is full.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}

	if snap.Status.Terminal() && set != nil {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, snap.JobID)
	}
}

// SubscriberCount returns the number of active subscribers for a job.
func (h *Hub) SubscriberCount(jobID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
