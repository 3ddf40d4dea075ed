package scheduler

import "sync"

// Event names published by the scheduler.
const (
	EventWarmupDone = "warmup_done"
	EventRunStart   = "run_start"
	EventRunEnd     = "run_end"
	EventPrefill    = "prefill"
	EventDecode     = "decode"
)

// Event represents a scheduler event.
// Minimal and stable: name + run label and optional fields via key/values.
type Event struct {
	Name   string
	Desc   string
	Fields map[string]any
}

// EventPublisher receives events from the scheduler. Publish is called from
// the producer goroutine; implementations should be lightweight and
// non-blocking and must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Named returns the stored events with the given name, in publish order.
func (p *MemoryPublisher) Named(name string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
