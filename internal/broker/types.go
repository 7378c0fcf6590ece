// Package broker distributes orchestration events to in-process or remote
// observers. The local broker serves single-process deployments; the NATS
// broker bridges events onto subjects for external consumers.
package broker

import (
	"context"

	"github.com/consejo-ai/consejo/events"
)

type Broker interface {
	Topic(context.Context, string) Topic
}

type Topic interface {
	Publish(context.Context, events.Event) error
	Subscribe(context.Context, events.Hook) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}
