package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the Bus.
var (
	// ErrUnknownTask is returned when publishing to or subscribing on a
	// task id the bus has no record of (never registered, or dropped).
	ErrUnknownTask = errors.New("no event log for task")

	// ErrLogClosed is returned when publishing after a terminal event.
	ErrLogClosed = errors.New("event log already closed by a terminal event")
)

// Bus is the in-process publish/subscribe channel between the generation
// pipeline and any number of stream adapters. It keeps, per task, the
// ordered list of all events published so far, so a subscriber can attach
// at any sequence number and receive exactly seq, seq+1, ... with no gaps
// and no duplicates. Publishing never blocks on slow subscribers.
type Bus struct {
	mu       sync.Mutex
	logs     map[uuid.UUID]*taskLog
	chanSize int
	logger   *slog.Logger
}

// defaultChanSize is the subscriber channel buffer used by NewBus.
const defaultChanSize = 256

// taskLog is the per-task ordered event history plus its live subscribers.
type taskLog struct {
	events []Event
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// subscriber buffers events between the publisher and one consumer
// channel so a stalled consumer cannot hold up the pipeline.
type subscriber struct {
	mu      sync.Mutex
	pending []Event
	from    int64
	done    bool
	notify  chan struct{}
}

// NewBus creates an empty Bus with the default subscriber buffer.
func NewBus(logger *slog.Logger) *Bus {
	return NewBusBuffered(logger, defaultChanSize)
}

// NewBusBuffered creates an empty Bus whose subscriber channels buffer
// up to chanSize events between the delivery goroutine and the consumer.
func NewBusBuffered(logger *slog.Logger, chanSize int) *Bus {
	if chanSize < 0 {
		chanSize = 0
	}
	return &Bus{
		logs:     make(map[uuid.UUID]*taskLog),
		chanSize: chanSize,
		logger:   logger.With("component", "event_bus"),
	}
}

// Register creates the event log for a task. It must be called before the
// first Publish for that task. Registering an existing id is a no-op.
func (b *Bus) Register(taskID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.logs[taskID]; ok {
		return
	}
	b.logs[taskID] = &taskLog{subs: make(map[int]*subscriber)}
}

// Publish stamps the event with the task's next sequence number and the
// current time, appends it to the log, and fans it out to every
// subscriber. Publishing a terminal event closes the log: subscriber
// channels are closed once they have drained, and later Publish calls
// fail with ErrLogClosed.
func (b *Bus) Publish(taskID uuid.UUID, ev Event) (Event, error) {
	b.mu.Lock()
	log, ok := b.logs[taskID]
	if !ok {
		b.mu.Unlock()
		return Event{}, ErrUnknownTask
	}
	if log.closed {
		b.mu.Unlock()
		return Event{}, ErrLogClosed
	}

	ev.Seq = int64(len(log.events))
	ev.TaskID = taskID
	ev.At = time.Now().UTC()
	log.events = append(log.events, ev)

	terminal := ev.IsTerminal()
	if terminal {
		log.closed = true
	}

	// Fan out while still holding the bus lock so concurrent publishers
	// cannot interleave pushes out of sequence order. push never blocks,
	// so holding b.mu across it is safe.
	for _, sub := range log.subs {
		sub.push(ev, terminal)
	}
	fanout := len(log.subs)
	b.mu.Unlock()

	b.logger.Debug("event published",
		"task_id", taskID,
		"seq", ev.Seq,
		"type", ev.Type,
		"subscribers", fanout)

	return ev, nil
}

// Subscribe returns a channel delivering the task's events starting at
// fromSeq: first the already-published events at or after fromSeq, then
// live events as they are published. The channel is closed after the
// terminal event has been delivered, or when ctx is cancelled. Multiple
// subscribers receive independent, complete sequences.
func (b *Bus) Subscribe(ctx context.Context, taskID uuid.UUID, fromSeq int64) (<-chan Event, error) {
	b.mu.Lock()
	log, ok := b.logs[taskID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrUnknownTask
	}

	// Seed the replay under the bus lock so no published event can fall
	// between the copied history and live delivery. A fromSeq beyond the
	// log head delivers nothing until the sequence catches up.
	if fromSeq < 0 {
		fromSeq = 0
	}
	sub := &subscriber{from: fromSeq, notify: make(chan struct{}, 1)}
	if fromSeq < int64(len(log.events)) {
		sub.pending = append(sub.pending, log.events[fromSeq:]...)
	}
	sub.done = log.closed

	var id int
	if !log.closed {
		id = log.nextID
		log.nextID++
		log.subs[id] = sub
	}
	closed := log.closed
	b.mu.Unlock()

	out := make(chan Event, b.chanSize)
	go b.deliver(ctx, taskID, id, sub, out, closed)

	return out, nil
}

// Reset replaces a task's event log with a fresh, open, empty one.
// Subscribers attached to the old log are closed out. A resumed task
// starts a new sequence at 0; its checkpointed output is reachable
// through the transcript, not through event replay.
func (b *Bus) Reset(taskID uuid.UUID) {
	b.mu.Lock()
	old := b.logs[taskID]
	b.logs[taskID] = &taskLog{subs: make(map[int]*subscriber)}
	b.mu.Unlock()

	if old == nil {
		return
	}
	for _, sub := range old.subs {
		sub.mu.Lock()
		sub.done = true
		sub.mu.Unlock()
		sub.wake()
	}
}

// Drop removes a task's event log. Intended for retention cleanup once a
// task is terminal and its retention window has elapsed.
func (b *Bus) Drop(taskID uuid.UUID) {
	b.mu.Lock()
	log, ok := b.logs[taskID]
	if ok {
		delete(b.logs, taskID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	// Wake any subscriber still waiting so its channel closes.
	for _, sub := range log.subs {
		sub.mu.Lock()
		sub.done = true
		sub.mu.Unlock()
		sub.wake()
	}
}

// deliver drains the subscriber buffer into the consumer channel until
// the terminal event is delivered or the consumer's context ends.
func (b *Bus) deliver(ctx context.Context, taskID uuid.UUID, id int, sub *subscriber, out chan<- Event, alreadyClosed bool) {
	defer close(out)
	defer func() {
		if !alreadyClosed {
			b.unsubscribe(taskID, id)
		}
	}()

	for {
		sub.mu.Lock()
		batch := sub.pending
		sub.pending = nil
		done := sub.done
		sub.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if done {
			// Re-check for events pushed between the batch copy and the
			// done flag being observed.
			sub.mu.Lock()
			remaining := sub.pending
			sub.pending = nil
			sub.mu.Unlock()

			for _, ev := range remaining {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			return
		}

		select {
		case <-sub.notify:
		case <-ctx.Done():
			return
		}
	}
}

// unsubscribe detaches a live subscriber from a task log.
func (b *Bus) unsubscribe(taskID uuid.UUID, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if log, ok := b.logs[taskID]; ok {
		delete(log.subs, id)
	}
}

// push appends an event to the subscriber buffer and wakes the delivery
// goroutine. Events before the subscriber's requested start are skipped.
// Marking done after the terminal event lets delivery finish.
func (s *subscriber) push(ev Event, terminal bool) {
	s.mu.Lock()
	if ev.Seq >= s.from {
		s.pending = append(s.pending, ev)
	}
	if terminal {
		s.done = true
	}
	s.mu.Unlock()
	s.wake()
}

// wake signals the delivery goroutine without ever blocking.
func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
