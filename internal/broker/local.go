package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/consejo-ai/consejo/events"
	"github.com/google/uuid"
)

const defaultSlowSubscriberTimeout = 100 * time.Millisecond

type localBroker struct {
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

// Local returns an in-process broker.
func Local() Broker {
	return &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	t, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			id:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return t
}

type topic struct {
	id                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
}

func (t *topic) Publish(ctx context.Context, event events.Event) error {
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		default:
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case sub.channel <- event:
		case <-time.After(t.slowSubscriberTimeout):
			// Channel stayed full; drop the slow subscriber.
			sub.Unsubscribe()
		}
		return true
	})
	return nil
}

func (t *topic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}

	id := uuid.Must(uuid.NewV7()).String()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan events.Event, 50),
		onClose: func() { t.subscriptions.Del(id) },
		hook:    hook,
	}
	t.subscriptions.Set(id, sub)
	go sub.forwardToHook()
	return sub, nil
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan events.Event
	closeOnce sync.Once
	onClose   func()
	hook      events.Hook
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.onClose()
		close(s.channel)
	})
}

func (s *subscription) forwardToHook() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.channel:
			if !ok {
				return
			}
			events.Dispatch(s.ctx, s.hook, event)
		}
	}
}
