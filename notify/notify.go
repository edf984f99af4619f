// Package notify carries domain events out of the core. Publishing never
// blocks and delivery failures are only logged.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind is the entity an event is about.
type Kind string

const (
	KindMod          Kind = "mod"
	KindModVersion   Kind = "mod_version"
	KindEditProposal Kind = "edit_proposal"
)

// Action is what happened to the entity.
type Action string

const (
	ActionNew      Action = "new"
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
	ActionRevoked  Action = "revoked"
)

// Event is one moderation fact.
type Event struct {
	Kind      Kind      `json:"kind"`
	Action    Action    `json:"action"`
	ActorID   uint      `json:"actor_id"`
	SubjectID uint      `json:"subject_id"`
	At        time.Time `json:"at"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Sink delivers events somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Bus fans events out to sinks from a single background goroutine.
type Bus struct {
	log     *zap.SugaredLogger
	sinks   []Sink
	events  chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBus starts a bus with room for buffer queued events.
func NewBus(buffer int, log *zap.SugaredLogger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	b := &Bus{
		log:     log,
		sinks:   sinks,
		events:  make(chan Event, buffer),
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish queues e. When the queue is full or the bus is closed the event is
// dropped and a warning logged.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warnw("Notification bus closed, dropping event", eventFields(e)...)
		return
	}
	select {
	case b.events <- e:
	default:
		b.log.Warnw("Notification queue full, dropping event", eventFields(e)...)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.events {
		for _, s := range b.sinks {
			b.deliver(s, e)
		}
	}
}

func (b *Bus) deliver(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("Notification sink panicked", append(eventFields(e), zap.String("sink", s.Name()), zap.Any("panic", r))...)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := s.Deliver(ctx, e); err != nil {
		b.log.Warnw("Failed to deliver notification", append(eventFields(e), zap.String("sink", s.Name()), zap.Error(err))...)
	}
}

func eventFields(e Event) []any {
	return []any{
		zap.String("kind", string(e.Kind)),
		zap.String("action", string(e.Action)),
		zap.Uint("actor_id", e.ActorID),
		zap.Uint("subject_id", e.SubjectID),
	}
}

// LogSink writes every event to the logger.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Log.Infow("Moderation event", eventFields(e)...)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
