package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-ai/consejo/events"
)

// collectingHook records dispatched events behind a mutex so tests can
// wait for the forwarding goroutine.
type collectingHook struct {
	events.NoopHook
	mu  sync.Mutex
	got []events.Event
}

func (h *collectingHook) OnQueryReceived(_ context.Context, e events.QueryReceived) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, e)
}

func (h *collectingHook) OnSynthesisReady(_ context.Context, e events.SynthesisReady) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, e)
}

func (h *collectingHook) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func (h *collectingHook) snapshot() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.Event(nil), h.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestLocal_PublishReachesSubscriber(t *testing.T) {
	ctx := context.Background()
	topic := Local().Topic(ctx, "rounds")

	hook := &collectingHook{}
	sub, err := topic.Subscribe(ctx, hook)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.NotEmpty(t, sub.ID())

	require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "¿qué?"}))
	require.NoError(t, topic.Publish(ctx, events.SynthesisReady{Quality: "HIGH"}))

	waitFor(t, func() bool { return hook.len() == 2 })
	got := hook.snapshot()
	assert.Equal(t, "¿qué?", got[0].(events.QueryReceived).Question)
	assert.Equal(t, "HIGH", got[1].(events.SynthesisReady).Quality)
}

func TestLocal_TopicIdentity(t *testing.T) {
	ctx := context.Background()
	b := Local()
	assert.Same(t, b.Topic(ctx, "a"), b.Topic(ctx, "a"))
	assert.NotSame(t, b.Topic(ctx, "a"), b.Topic(ctx, "b"))
}

func TestLocal_TopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := Local()

	hook := &collectingHook{}
	sub, err := b.Topic(ctx, "a").Subscribe(ctx, hook)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Topic(ctx, "b").Publish(ctx, events.QueryReceived{Question: "otro tema"}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, hook.len())
}

func TestLocal_NilHookRejected(t *testing.T) {
	ctx := context.Background()
	_, err := Local().Topic(ctx, "rounds").Subscribe(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook is required")
}

func TestLocal_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	topic := Local().Topic(ctx, "rounds")

	hook := &collectingHook{}
	sub, err := topic.Subscribe(ctx, hook)
	require.NoError(t, err)

	require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "uno"}))
	waitFor(t, func() bool { return hook.len() == 1 })

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "dos"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hook.len())
}

func TestLocal_CancelledSubscriberIsDropped(t *testing.T) {
	ctx := context.Background()
	topic := Local().Topic(ctx, "rounds")

	subCtx, cancel := context.WithCancel(ctx)
	hook := &collectingHook{}
	_, err := topic.Subscribe(subCtx, hook)
	require.NoError(t, err)
	cancel()

	require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "perdido"}))

	live := &collectingHook{}
	sub, err := topic.Subscribe(ctx, live)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "entregado"}))
	waitFor(t, func() bool { return live.len() == 1 })
	assert.Zero(t, hook.len())
}

func TestLocal_SlowSubscriberIsDropped(t *testing.T) {
	ctx := context.Background()
	b := Local().(*localBroker)
	b.slowSubscriberTimeout = 10 * time.Millisecond
	topic := b.Topic(ctx, "rounds").(*topic)

	// a hook that never drains: block the forwarding goroutine
	blocked := make(chan struct{})
	hook := &blockingHook{release: blocked}
	_, err := topic.Subscribe(ctx, hook)
	require.NoError(t, err)

	// first event parks the forwarder inside the hook, the rest fill the
	// channel until publish times out and evicts the subscription
	for i := 0; i < 60; i++ {
		require.NoError(t, topic.Publish(ctx, events.QueryReceived{Question: "relleno"}))
	}

	waitFor(t, func() bool { return topic.subscriptions.Len() == 0 })
	close(blocked)
}

type blockingHook struct {
	events.NoopHook
	release chan struct{}
}

func (h *blockingHook) OnQueryReceived(context.Context, events.QueryReceived) { <-h.release }
