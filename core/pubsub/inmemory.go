package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	defaultCacheSize   = 1000
	defaultConsumerBuf = 256
)

// WatermillBus implements Bus on top of Watermill's in-memory gochannel
// transport. Events are kept in a pointer cache indexed by Watermill message
// UUID, so payloads cross the bridge without serialization and late
// subscribers can replay a topic's history.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
	ctx        context.Context
	cancel     context.CancelFunc

	// pointerMap holds the original events by Watermill UUID; topicCache
	// holds the UUID sequence per topic for replay.
	cacheMu    sync.RWMutex
	pointerMap map[string]*Event
	topicCache map[string][]string
	maxCache   int

	subMu         sync.Mutex
	subscriptions map[string]context.CancelFunc // "consumerID:topic" -> cancel
	chanMap       map[string]Subscription
}

type subscription struct {
	ch     chan *Event
	cancel context.CancelFunc
}

func (s *subscription) Chan() <-chan *Event { return s.ch }

func (s *subscription) Close() error {
	s.cancel()
	return nil
}

// NewInMemoryBus creates a Watermill-backed in-memory event bus.
func NewInMemoryBus() *WatermillBus {
	logger := watermill.NopLogger{}
	goch := gochannel.NewGoChannel(
		gochannel.Config{
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &WatermillBus{
		publisher:     goch,
		subscriber:    goch,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		pointerMap:    make(map[string]*Event),
		topicCache:    make(map[string][]string),
		maxCache:      defaultCacheSize,
		subscriptions: make(map[string]context.CancelFunc),
		chanMap:       make(map[string]Subscription),
	}
}

// Publish records the event in the replay cache and pushes its UUID through
// Watermill.
func (b *WatermillBus) Publish(topic string, event *Event) error {
	msgID := watermill.NewUUID()

	b.cacheMu.Lock()
	b.pointerMap[msgID] = event
	b.topicCache[topic] = append(b.topicCache[topic], msgID)
	if len(b.topicCache[topic]) > b.maxCache {
		oldID := b.topicCache[topic][0]
		b.topicCache[topic] = b.topicCache[topic][1:]
		delete(b.pointerMap, oldID)
	}
	b.cacheMu.Unlock()

	wMsg := message.NewMessage(msgID, []byte(msgID))
	if err := b.publisher.Publish(topic, wMsg); err != nil {
		return fmt.Errorf("watermill publish failed: %w", err)
	}
	return nil
}

// Subscribe attaches a consumer to a topic, replaying cached events first.
// Subscribing twice with the same consumer ID returns the existing
// subscription.
func (b *WatermillBus) Subscribe(topic string, consumerID string) (Subscription, error) {
	key := consumerID + ":" + topic

	b.subMu.Lock()
	if sub, exists := b.chanMap[key]; exists {
		b.subMu.Unlock()
		return sub, nil
	}
	b.subMu.Unlock()

	subCtx, subCancel := context.WithCancel(b.ctx)
	messages, err := b.subscriber.Subscribe(subCtx, topic)
	if err != nil {
		subCancel()
		return nil, fmt.Errorf("watermill subscribe failed: %w", err)
	}

	out := make(chan *Event, defaultConsumerBuf)

	// Replay the cached history before live delivery.
	b.cacheMu.RLock()
	var replay []*Event
	for _, id := range b.topicCache[topic] {
		if ev, ok := b.pointerMap[id]; ok {
			replay = append(replay, ev)
		}
	}
	b.cacheMu.RUnlock()
	for _, ev := range replay {
		select {
		case out <- ev:
		default:
			// Consumer buffer full before it even started reading; drop the
			// oldest history rather than block Subscribe.
		}
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case wMsg, ok := <-messages:
				if !ok {
					return
				}
				b.cacheMu.RLock()
				ev, exists := b.pointerMap[wMsg.UUID]
				b.cacheMu.RUnlock()
				if !exists {
					wMsg.Ack()
					continue
				}
				select {
				case out <- ev:
					wMsg.Ack()
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	sub := &subscription{ch: out, cancel: subCancel}
	b.subMu.Lock()
	b.subscriptions[key] = subCancel
	b.chanMap[key] = sub
	b.subMu.Unlock()

	return sub, nil
}

// Unsubscribe stops a consumer's subscription. Unknown keys are a no-op.
func (b *WatermillBus) Unsubscribe(topic string, consumerID string) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	key := consumerID + ":" + topic
	if cancel, exists := b.subscriptions[key]; exists {
		cancel()
		delete(b.subscriptions, key)
		delete(b.chanMap, key)
	}
	return nil
}

// DropTopic releases the replay cache for a topic (called when a run is
// cleaned up from the state store).
func (b *WatermillBus) DropTopic(topic string) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	for _, id := range b.topicCache[topic] {
		delete(b.pointerMap, id)
	}
	delete(b.topicCache, topic)
}

// Close shuts the whole bus down.
func (b *WatermillBus) Close() error {
	b.cancel()
	return b.publisher.Close()
}
