package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/questforge/encounterd/internal/logging"
)

// EventType represents the type of event. It doubles as the watermill topic.
type EventType string

const (
	SessionStarted     EventType = "session.started"
	ObjectiveCompleted EventType = "session.objective_completed"
	NPCInteracted      EventType = "session.npc_interacted"
	SessionCompleted   EventType = "session.completed"
	SessionEvicted     EventType = "session.evicted"
)

// allTopic receives a copy of every event for SubscribeAll.
const allTopic = "session.*"

// Event is a session lifecycle event.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"sessionId"`
	PlayerID    string    `json:"playerId,omitempty"`
	ObjectiveID string    `json:"objectiveId,omitempty"`
	NPCID       string    `json:"npcId,omitempty"`
	// Durable is set on eviction events when the session survives in the store.
	Durable bool  `json:"durable,omitempty"`
	Time    int64 `json:"time"` // unix ms
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// Bus delivers events through an in-process watermill GoChannel.
// Subscribers run on their own goroutine and see events in publish order.
// Publish returns once every subscriber has handled the event, so a
// subscriber must not publish.
type Bus struct {
	mu     sync.Mutex
	pubsub *gochannel.GoChannel
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.subscribe(string(eventType), fn)
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.subscribe(allTopic, fn)
}

func (b *Bus) subscribe(topic string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	ctx, cancel := context.WithCancel(b.ctx)
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		logging.Error().Err(err).Str("topic", topic).Msg("event subscribe failed")
		return func() {}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
				msg.Ack()
				continue
			}
			fn(ev)
			msg.Ack()
		}
	}()

	return cancel
}

// Publish sends an event to the subscribers of its type and to SubscribeAll subscribers.
func (b *Bus) Publish(ev Event) error {
	if ev.Time == 0 {
		ev.Time = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event: marshal %s: %w", ev.Type, err)
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}

	for _, topic := range []string{string(ev.Type), allTopic} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := b.pubsub.Publish(topic, msg); err != nil {
			return fmt.Errorf("event: publish %s: %w", topic, err)
		}
	}
	b.published.Add(1)
	return nil
}

// Published returns the number of events published so far.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close stops all subscribers and waits for them to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
