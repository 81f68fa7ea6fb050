package jobs

import (
	"sync"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/risk"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind is dropped rather than allowed to stall the producer;
// delivery is at-least-once and clients resynchronize on reconnect.
const subscriberBuffer = 256

// ProgressUpdate is one entry in a job's live progress feed.
type ProgressUpdate struct {
	JobID     uuid.UUID      `json:"job_id"`
	SectionID uuid.UUID      `json:"section_id,omitempty"`
	RewriteID uuid.UUID      `json:"rewrite_id,omitempty"`
	Status    string         `json:"status"`
	Token     string         `json:"token,omitempty"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Findings  []risk.Finding `json:"findings,omitempty"`
	Done      bool           `json:"done"`
}

// Broker fans job progress out to subscribers over bounded channels.
// Publishing never blocks: a subscriber whose buffer is full loses the
// update. Clients resynchronize by re-reading job state on reconnect.
type Broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan ProgressUpdate]struct{}
}

// NewBroker creates an empty progress broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[chan ProgressUpdate]struct{})}
}

// Subscribe registers a listener for one job's feed. The returned cancel
// function must be called when the listener disconnects; it closes the
// channel.
func (b *Broker) Subscribe(jobID uuid.UUID) (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan ProgressUpdate]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an update to every live subscriber of the job.
func (b *Broker) Publish(u ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[u.JobID] {
		select {
		case ch <- u:
		default:
			// Slow subscriber; drop the update rather than block dispatch.
		}
	}
}
